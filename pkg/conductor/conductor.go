package conductor

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	startupTimeout  time.Duration = 5 * time.Second
	shutdownTimeout time.Duration = 5 * time.Second
)

// Service is a long-running component. Run must signal `started` once it
// is ready, and close (or send on) `stopped` after a context arrives on `stop`.
type Service interface {
	Run(started, stopped chan bool, stop chan context.Context) error
}

type serviceState struct {
	name     string
	service  Service
	ready    chan bool
	stopped  chan bool
	shutdown chan context.Context
}

type Conductor struct {
	mu           sync.Mutex
	started      bool          // Have we been started yet?
	stopping     bool          // Stop already requested
	noisy        bool          // Should we log?
	startTimeout time.Duration // How long to wait for each service to start before we give up
	stopTimeout  time.Duration // How long to wait for services to stop before we exit anyway
	shutdown     chan bool     // closed when everything has stopped, returned from Start()
	services     []*serviceState
}

// NewConductor creates a conductor; Option funcs change the defaults.
func NewConductor(opts ...func(*Conductor)) *Conductor {
	c := Conductor{
		startTimeout: startupTimeout,
		stopTimeout:  shutdownTimeout,
		shutdown:     make(chan bool),
		services:     []*serviceState{},
	}
	for _, optFn := range opts {
		optFn(&c)
	}
	return &c
}

// Service adds a named Service, to be started in order when Start is called.
func (c *Conductor) Service(name string, service Service) {
	if c.started {
		panic("Cannot call Conductor.Service after Conductor.Start")
	}
	c.services = append(c.services,
		&serviceState{name, service, make(chan bool, 1), make(chan bool, 1), make(chan context.Context, 1)})
}

// Start runs each service in turn, waiting for it to become ready.
// The returned channel is closed once all services have stopped.
func (c *Conductor) Start() chan bool {
	c.started = true

	// start services one at a time: this gives us dependency order.
SRV_LOOP:
	for i, srv := range c.services {
		c.logf("Conductor: starting '%s'\n", srv.name)
		err := srv.service.Run(srv.ready, srv.stopped, srv.shutdown)
		if err != nil {
			c.logf("Conductor: '%s' failed to start: %v\n", srv.name, err)
			c.stopFirst(i)
			break
		}
		select {
		case <-time.After(c.startTimeout):
			c.logf("Conductor: timed out starting '%s'\n", srv.name)
			c.stopFirst(i + 1)
			break SRV_LOOP
		case <-srv.ready:
			continue
		}
	}
	return c.shutdown
}

// Stop signals every service to shut down, in reverse start order,
// and closes the shutdown channel once they have (or on timeout).
func (c *Conductor) Stop() {
	c.stopFirst(len(c.services))
}

func (c *Conductor) stopFirst(n int) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(n)
	done := make(chan bool)
	go func() {
		wg.Wait()
		close(done)
	}()

	for i := n - 1; i >= 0; i-- {
		s := c.services[i]
		c.logf("Conductor: stopping '%s'\n", s.name)
		s.shutdown <- ctx
		go func(s *serviceState) {
			<-s.stopped
			c.logf("Conductor: stopped '%s'\n", s.name)
			wg.Done()
		}(s)
	}

	select {
	case <-done:
		c.logf("Conductor: all services stopped\n")
	case <-time.After(c.stopTimeout + time.Second):
		log.Println("Conductor: timeout waiting for services to stop, shutting down")
	}
	close(c.shutdown)
}

func (c *Conductor) logf(s string, v ...any) {
	if c.noisy {
		log.Printf(s, v...)
	}
}
