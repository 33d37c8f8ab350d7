package tipjar

/*
The message subsystem exists to allow event-based access to
the tip pipeline, for integration purposes.

A simple internal 'message bus' is passed around internally as a
singleton, with an internal goroutine and a 'send' method for sending
'messages'.

outbound destinations are created in config, which result in these
messages being routed to various external services, ie: ZMQ,
HTTP callbacks, log-files, etc. These are managed by MessageSubscribers:

MessageSubscribers are registered with the bus and are subscribed via
their own channels along with a list of EventTypes they want to subscribe
to.
*/

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBusFull is returned by Send when the bus cannot accept a message
// without blocking the caller.
var ErrBusFull = errors.New("message bus full, message dropped")

// MessageSubscribers are things that subscribe to the bus and handle
// messages, ie: ZMQ, http callbacks etc.
type MessageSubscriber interface {
	GetChan() chan Message
}

// Created by the bus, wraps message sent with Send
type Message struct {
	EventType EventType
	Message   []byte
	ID        string // optional
}

// MarshalJSON flattens the EventType into its category and name,
// e.g. {"type":"TIP","event":"CONFIRMED",...}.
func (m Message) MarshalJSON() ([]byte, error) {
	body := json.RawMessage(m.Message)
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type    string          `json:"type"`
		Event   string          `json:"event"`
		ID      string          `json:"id"`
		Message json.RawMessage `json:"message"`
	}{m.EventType.Type(), eventName(m.EventType), m.ID, body})
}

func eventName(t EventType) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", t)
}

type Subscription struct {
	dest  MessageSubscriber
	types []EventType
}

func (s *Subscription) wants(t EventType) bool {
	for _, x := range s.types {
		if x.Type() == "ALL" || x.Type() == t.Type() {
			return true
		}
	}
	return false
}

func NewMessageBus() MessageBus {
	return MessageBus{
		register:  make(chan *Subscription, 10),
		receivers: make(map[*Subscription]bool),
		inbound:   make(chan Message, 1000),
	}
}

type MessageBus struct {
	// Registered MessageSubscribers, owned by the Run goroutine.
	receivers map[*Subscription]bool

	// Register requests for MessageSubscribers.
	register chan *Subscription

	// Messages from Send(), destinated for MessageSubscribers
	inbound chan Message
}

// Send a message to the bus with a specific EventType
// msg can be anything JSON serialisable, this will be
// turned into a Message and delivered to any interested MessageSubscribers.
// Send never blocks: if the bus is saturated the message is dropped.
func (b MessageBus) Send(t EventType, msg interface{}, msgID ...string) error {
	j, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m := Message{t, j, generateID()}
	if len(msgID) > 0 {
		m.ID = msgID[0]
	}
	select {
	case b.inbound <- m:
		return nil
	default:
		return ErrBusFull
	}
}

func (b MessageBus) Register(m MessageSubscriber, types ...EventType) {
	b.register <- &Subscription{m, types}
}

// Implements conductor Service
func (b MessageBus) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		stopBus := make(chan bool)
		go func() {
			for {
				select {
				case <-stopBus:
					return
				case sub := <-b.register:
					b.receivers[sub] = true
				case message := <-b.inbound:
					b.deliver(message)
				}
			}
		}()

		started <- true
		// wait for shutdown.
		<-stop
		close(stopBus)
		stopped <- true
	}()
	return nil
}

func (b MessageBus) deliver(message Message) {
	for sub := range b.receivers {
		// check if this receiver wants this message type
		if !sub.wants(message.EventType) {
			continue
		}
		// send the message to the receiver
		select {
		case sub.dest.GetChan() <- message:
		default:
			// if we are unable to send, cancel the sub
			delete(b.receivers, sub)
			b.Send(SYS_ERR, "receiver failed to handle msg, unsubscribed")
		}
	}
}

// create a short random ID for msgs that have none
func generateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:8]
}
