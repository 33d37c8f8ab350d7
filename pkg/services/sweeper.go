package services

import (
	"context"
	"log"
	"time"

	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
)

// Sweeper runs Coordinator.SweepPending on a fixed interval, so tips
// whose submission-time trigger never completed still make progress.
type Sweeper struct {
	coord     *Coordinator
	interval  time.Duration
	staleness time.Duration
	batchSize int
}

var _ conductor.Service = Sweeper{}

func NewSweeper(coord *Coordinator, conf tipjar.ProcessConfig) Sweeper {
	return Sweeper{
		coord:     coord,
		interval:  conf.SweepInterval(),
		staleness: conf.StaleAfter(),
		batchSize: conf.SweepBatchSize,
	}
}

// Implements conductor.Service
func (s Sweeper) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					report, err := s.coord.SweepPending(ctx, s.staleness, s.batchSize)
					if err != nil {
						log.Println("Sweeper: sweep failed:", err)
						continue
					}
					if report.Found > 0 || report.Settled > 0 || report.StaleLocks > 0 {
						log.Printf("Sweeper: %d stale, %d processed, %d settled, %d locks reverted\n",
							report.Found, report.Processed, report.Settled, report.StaleLocks)
					}
				}
			}
		}()
		started <- true
		<-stop
		cancel() // abandons in-flight chain calls
		<-done
		close(stopped)
	}()
	return nil
}
