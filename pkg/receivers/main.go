package receivers

import (
	"log"

	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
)

// SetUpReceivers starts the configured bus receivers: rotating event
// logs, HTTP callbacks and ZMQ publishers.
func SetUpReceivers(cond *conductor.Conductor, bus tipjar.MessageBus, conf tipjar.Config) {
	// Set up configured loggers
	SetupLoggers(cond, bus, conf)

	// Set up configured Callbacks
	SetupCallbacks(cond, bus, conf)

	// Set up configured ZMQ publishers
	SetupZMQ(cond, bus, conf)
}

// subscribe registers s for the configured type names; the receiver
// name only appears in warnings.
func subscribe(bus tipjar.MessageBus, s tipjar.MessageSubscriber, kind, name string, names []string) {
	types, invalid := tipjar.FindEventTypes(names)
	for _, t := range invalid {
		log.Printf("%s %s: ignoring invalid message type: %s\n", kind, name, t)
	}
	bus.Register(s, types...)
}
