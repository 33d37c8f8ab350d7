package receivers

import (
	"context"
	"fmt"
	"log"

	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
	"gopkg.in/natefinch/lumberjack.v2"
)

// MessageLogger writes bus events to a rotating log file.
type MessageLogger struct {
	// MessageLogger receives tipjar.Message via Rec
	Rec chan tipjar.Message
	// and logs them via Log
	Log *log.Logger
}

var _ conductor.Service = MessageLogger{}

// Implements tipjar.MessageSubscriber
func (l MessageLogger) GetChan() chan tipjar.Message {
	return l.Rec
}

// Implements conductor.Service
func (l MessageLogger) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			// handle stopping the service
			case <-stop:
				close(stopped)
				return
			case msg := <-l.Rec:
				l.Log.Printf("%s:%s (%s): %s\n",
					msg.EventType.Type(),
					msg.EventType,
					msg.ID,
					msg.Message)
			}
		}
	}()
	return nil
}

func NewMessageLogger(path string) MessageLogger {
	return MessageLogger{
		make(chan tipjar.Message, 1000),
		log.New(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// Reads config and sets up any configured loggers
func SetupLoggers(cond *conductor.Conductor, bus tipjar.MessageBus, conf tipjar.Config) {
	for name, c := range conf.Loggers {
		l := NewMessageLogger(c.Path)
		cond.Service(fmt.Sprintf("Logger %s", c.Path), l)
		subscribe(bus, l, "Logger", name, c.Types)
	}
}
