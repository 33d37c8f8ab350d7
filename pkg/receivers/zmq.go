package receivers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"syscall"

	"github.com/pebbe/zmq4"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
)

// ZMQPublisher publishes bus events on a ZeroMQ PUB socket as two-part
// messages: topic ("TIP.CONFIRMED") then the JSON-encoded Message.
// Subscribers filter by topic prefix, e.g. "TIP." or "USR.".
type ZMQPublisher struct {
	Rec  chan tipjar.Message
	Bind string
}

var _ conductor.Service = ZMQPublisher{}

func NewZMQPublisher(config tipjar.ZMQConfig) ZMQPublisher {
	return ZMQPublisher{
		Rec:  make(chan tipjar.Message, 1000),
		Bind: config.Bind,
	}
}

// Implements tipjar.MessageSubscriber
func (z ZMQPublisher) GetChan() chan tipjar.Message {
	return z.Rec
}

// Implements conductor.Service
func (z ZMQPublisher) Run(started, stopped chan bool, stop chan context.Context) error {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return fmt.Errorf("ZMQPublisher: cannot create socket: %w", err)
	}
	err = sock.SetLinger(0)
	if err != nil {
		sock.Close()
		return fmt.Errorf("ZMQPublisher: cannot set linger: %w", err)
	}
	err = sock.Bind(z.Bind)
	if err != nil {
		sock.Close()
		return fmt.Errorf("ZMQPublisher: cannot bind %s: %w", z.Bind, err)
	}
	go func() {
		// zmq sockets are not thread-safe: only this goroutine uses sock.
		defer sock.Close()
		started <- true
		for {
			select {
			case <-stop:
				close(stopped)
				return
			case msg := <-z.Rec:
				err := z.publish(sock, msg)
				if err != nil {
					log.Printf("ZMQPublisher: %s: %v\n", z.Bind, err)
				}
			}
		}
	}()
	return nil
}

func (z ZMQPublisher) publish(sock *zmq4.Socket, msg tipjar.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = sock.SendMessageDontwait(Topic(msg), body)
	if err != nil && zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
		return nil // high-water mark reached: drop
	}
	return err
}

// Topic is the ZMQ topic frame for a message, e.g. "TIP.CONFIRMED".
func Topic(msg tipjar.Message) string {
	return fmt.Sprintf("%s.%s", msg.EventType.Type(), msg.EventType)
}

// Reads config and sets up any configured ZMQ publishers
func SetupZMQ(cond *conductor.Conductor, bus tipjar.MessageBus, conf tipjar.Config) {
	for name, c := range conf.ZMQ {
		z := NewZMQPublisher(c)
		cond.Service(fmt.Sprintf("ZMQ publisher %s", c.Bind), z)
		subscribe(bus, z, "ZMQ", name, c.Types)
	}
}
