package services

import (
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
)

// StartServices registers the tip pipeline with the conductor and
// returns the Coordinator for the web API.
func StartServices(cond *conductor.Conductor, bus tipjar.MessageBus, conf tipjar.Config, store tipjar.Store, chain tipjar.ChainReader) *Coordinator {
	// Coordinator processes submitted tips on its trigger pool.
	coord := NewCoordinator(conf, store, chain, bus, tipjar.NewBusNotifier(bus))
	cond.Service("TipCoordinator", coord)

	// Sweeper retries stale tips and finishes unsettled ones.
	cond.Service("Sweeper", NewSweeper(coord, conf.Process))
	return coord
}
