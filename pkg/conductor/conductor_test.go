package conductor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

type testService struct {
	name string
	rec  *recorder
	err  error
}

func (s testService) Run(started, stopped chan bool, stop chan context.Context) error {
	if s.err != nil {
		return s.err
	}
	go func() {
		s.rec.add("start " + s.name)
		started <- true
		<-stop
		s.rec.add("stop " + s.name)
		close(stopped)
	}()
	return nil
}

func TestStartAndStopOrder(t *testing.T) {
	rec := &recorder{}
	c := NewConductor(ShutdownTimeout(time.Second))
	c.Service("a", testService{"a", rec, nil})
	c.Service("b", testService{"b", rec, nil})
	c.Service("c", testService{"c", rec, nil})

	done := c.Start()
	c.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("conductor did not shut down")
	}
	events := rec.list()
	assert.Equal(t, []string{"start a", "start b", "start c"}, events[:3])
	// stop signals go out in reverse order but services exit concurrently
	assert.ElementsMatch(t, []string{"stop a", "stop b", "stop c"}, events[3:])

	// a second Stop is harmless
	c.Stop()
}

func TestFailedStartStopsEarlierServices(t *testing.T) {
	rec := &recorder{}
	c := NewConductor(ShutdownTimeout(time.Second))
	c.Service("a", testService{"a", rec, nil})
	c.Service("broken", testService{"broken", rec, errors.New("cannot bind")})
	c.Service("c", testService{"c", rec, nil})

	done := c.Start()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("conductor did not shut down")
	}
	assert.Equal(t, []string{"start a", "stop a"}, rec.list())
}

func TestServiceAfterStartPanics(t *testing.T) {
	c := NewConductor()
	c.Start()
	assert.Panics(t, func() { c.Service("late", testService{}) })
}
