package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
	"github.com/surgesocial/tipjar/pkg/metrics"
	"github.com/surgesocial/tipjar/pkg/settlement"
	"github.com/surgesocial/tipjar/pkg/verifier"
)

// errNotMined marks a transaction the node knows about but has not
// included in a block yet; it is retried like a missing transaction.
var errNotMined = errors.New("transaction not mined yet")

// Coordinator drives tips through the state machine:
//
//	pending -> locked -> confirmed | failed
//	locked -> pending (transient failure, attempts remaining)
//
// Safety between concurrent workers (in this or other processes) comes
// only from the store's conditional updates; the Coordinator holds no
// per-tip locks of its own.
type Coordinator struct {
	store    tipjar.Store
	chain    tipjar.ChainReader
	verifier verifier.Verifier
	settler  *settlement.Aggregator
	notify   tipjar.NotificationSink
	bus      tipjar.MessageBus
	token    tipjar.TokenConfig
	config   tipjar.ProcessConfig
	timeout  time.Duration // whole ProcessOne run for background triggers
	now      func() time.Time

	mu      sync.Mutex
	pool    *workerpool.WorkerPool // submission triggers
	stopped bool
}

// interface guards
var _ tipjar.TipProcessor = &Coordinator{}
var _ conductor.Service = &Coordinator{}

func NewCoordinator(conf tipjar.Config, store tipjar.Store, chain tipjar.ChainReader, bus tipjar.MessageBus, notify tipjar.NotificationSink) *Coordinator {
	workers := conf.Process.Workers
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		store:    store,
		chain:    chain,
		verifier: verifier.NewVerifier(conf.Token, conf.Chain.ChainID),
		settler:  settlement.NewAggregator(store, conf.ReputationWeight()),
		notify:   notify,
		bus:      bus,
		token:    conf.Token,
		config:   conf.Process,
		timeout:  3*conf.Chain.Timeout() + 10*time.Second,
		now:      time.Now,
		pool:     workerpool.New(workers),
	}
}

// Implements conductor.Service: background triggers are drained on stop.
func (c *Coordinator) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		<-stop
		c.Shutdown()
		close(stopped)
	}()
	return nil
}

// Shutdown stops accepting triggers and waits for queued ones to finish.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	c.pool.StopWait()
}

// SubmitTip validates a claim and records it as a pending tip, then
// schedules verification in the background. The caller gets the
// pending tip immediately; confirmation is asynchronous.
func (c *Coordinator) SubmitTip(ctx context.Context, claim tipjar.TipClaim) (tipjar.Tip, error) {
	claim.Normalize()
	err := claim.Validate(c.token)
	if err != nil {
		return tipjar.Tip{}, c.rejected(err)
	}
	_, err = c.store.GetTarget(claim.TargetRef)
	if err != nil {
		if tipjar.IsNotFoundError(err) {
			return tipjar.Tip{}, c.rejected(tipjar.NewErr(tipjar.NotFound, "unknown target: %s", claim.TargetRef))
		}
		return tipjar.Tip{}, err
	}
	tip, err := c.store.InsertPending(tipjar.NewPendingTip(claim, c.token, c.now()))
	if err != nil {
		if tipjar.IsAlreadyExistsError(err) {
			return tipjar.Tip{}, c.rejected(tipjar.NewErr(tipjar.DuplicateTx, "transaction already used: %s", claim.ChainTxID))
		}
		log.Printf("Coordinator: InsertPending '%s': %v\n", claim.ChainTxID, err)
		return tipjar.Tip{}, err
	}
	metrics.TipsSubmitted.Inc()
	c.send(tipjar.TIP_SUBMITTED, tip)
	log.Printf("Coordinator: accepted tip '%s' for tx %s\n", tip.ID, tip.ChainTxID)
	c.Trigger(tip.ID)
	return tip, nil
}

func (c *Coordinator) rejected(err error) error {
	metrics.TipsRejected.WithLabelValues(string(tipjar.CodeOf(err))).Inc()
	return err
}

// Trigger schedules ProcessOne on the background pool (fire-and-forget).
// Dropped after Shutdown; the sweep picks the tip up instead.
func (c *Coordinator) Trigger(tipID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_, err := c.ProcessOne(ctx, tipID)
		if err != nil {
			log.Printf("Coordinator: processing tip '%s': %v\n", tipID, err)
		}
	})
}

// ProcessOne locks a pending tip and resolves it against the chain.
// It returns false without doing anything if the tip could not be
// locked (another worker holds it, or it is already terminal).
// Chain failures are recorded on the tip, not returned; the error
// result reports store failures and cancellation of ctx. A cancelled
// run leaves the tip pending with its attempts unchanged.
func (c *Coordinator) ProcessOne(ctx context.Context, tipID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	locked, err := c.store.TryLock(tipID, c.now())
	if err != nil {
		log.Printf("Coordinator: TryLock '%s': %v\n", tipID, err)
		return false, err
	}
	if !locked {
		return false, nil
	}
	tip, err := c.store.GetTip(tipID)
	if err != nil {
		// still locked: RevertStaleLocks returns it to pending later.
		log.Printf("Coordinator: GetTip '%s': %v\n", tipID, err)
		return true, err
	}

	if tip.Attempts >= c.config.MaxAttempts {
		// only reachable through repeated lock expiry (crashed workers)
		return true, c.fail(tip, fmt.Sprintf("gave up after %d attempts: %s", tip.Attempts, tip.FailureReason))
	}

	outcome, err := c.check(ctx, tip)
	if err != nil {
		if ctx.Err() != nil {
			return true, c.release(tip, ctx.Err())
		}
		return true, c.retryOrFail(tip, err)
	}
	if !outcome.IsVerified() {
		return true, c.fail(tip, fmt.Sprintf("%s: %s", outcome.Kind, outcome.Reason))
	}

	ok, err := c.store.MarkConfirmed(tip.ID, outcome.Amount, outcome.BlockNumber, c.now())
	if err != nil {
		log.Printf("Coordinator: MarkConfirmed '%s': %v\n", tip.ID, err)
		return true, err
	}
	if !ok {
		// our lock expired and another worker took over.
		log.Printf("Coordinator: lost lock on tip '%s' before confirming\n", tip.ID)
		return true, nil
	}
	metrics.TipTransitions.WithLabelValues(string(tipjar.TipConfirmed)).Inc()
	tip, err = c.store.GetTip(tip.ID)
	if err != nil {
		// confirmed but unsettled: the sweep finishes it.
		log.Printf("Coordinator: GetTip '%s' after confirm: %v\n", tipID, err)
		return true, err
	}
	c.send(tipjar.TIP_CONFIRMED, tip)
	log.Printf("Coordinator: confirmed tip '%s' (%s %s at block %d)\n", tip.ID, tip.VerifiedAmount, tip.TokenSymbol, tip.VerifiedBlockNumber)
	return true, c.settle(ctx, tip)
}

// check fetches the transaction and receipt and runs the verifier.
// An error means the chain could not answer (yet): missing or unmined
// transactions, timeouts and RPC failures.
func (c *Coordinator) check(ctx context.Context, tip tipjar.Tip) (verifier.Outcome, error) {
	tx, err := c.chain.FetchTransaction(ctx, tip.ChainTxID)
	if err != nil {
		return verifier.Outcome{}, err
	}
	if tx.Pending {
		return verifier.Outcome{}, errNotMined
	}
	receipt, err := c.chain.FetchReceipt(ctx, tip.ChainTxID)
	if err != nil {
		if errors.Is(err, tipjar.ErrTxNotFound) {
			return verifier.Outcome{}, errNotMined
		}
		return verifier.Outcome{}, err
	}
	return c.verifier.Verify(tip, tx, receipt), nil
}

// retryOrFail returns a locked tip to pending after a transient chain
// failure, or fails it once MaxAttempts is reached.
func (c *Coordinator) retryOrFail(tip tipjar.Tip, cause error) error {
	attempts := tip.Attempts + 1
	if attempts >= c.config.MaxAttempts {
		return c.fail(tip, fmt.Sprintf("gave up after %d attempts: %v", attempts, cause))
	}
	ok, err := c.store.RevertToPending(tip.ID, cause.Error())
	if err != nil {
		log.Printf("Coordinator: RevertToPending '%s': %v\n", tip.ID, err)
		return err
	}
	if ok {
		metrics.TipTransitions.WithLabelValues(string(tipjar.TipPending)).Inc()
		tip.Attempts = attempts
		tip.Status = tipjar.TipPending
		tip.FailureReason = cause.Error()
		c.send(tipjar.TIP_RETRY, tip)
		log.Printf("Coordinator: tip '%s' will be retried (attempt %d of %d): %v\n", tip.ID, attempts, c.config.MaxAttempts, cause)
	}
	return nil
}

// release hands a tip back to pending when our own caller gave up
// (shutdown, client disconnect); that is not the chain's fault.
func (c *Coordinator) release(tip tipjar.Tip, cause error) error {
	_, err := c.store.ReleaseLock(tip.ID)
	if err != nil {
		log.Printf("Coordinator: ReleaseLock '%s': %v\n", tip.ID, err)
		return err
	}
	log.Printf("Coordinator: abandoned tip '%s': %v\n", tip.ID, cause)
	return cause
}

func (c *Coordinator) fail(tip tipjar.Tip, reason string) error {
	ok, err := c.store.MarkFailed(tip.ID, reason, c.now())
	if err != nil {
		log.Printf("Coordinator: MarkFailed '%s': %v\n", tip.ID, err)
		return err
	}
	if ok {
		metrics.TipTransitions.WithLabelValues(string(tipjar.TipFailed)).Inc()
		tip.Status = tipjar.TipFailed
		tip.FailureReason = reason
		c.send(tipjar.TIP_FAILED, tip)
		log.Printf("Coordinator: tip '%s' failed: %s\n", tip.ID, reason)
	}
	return nil
}

// settle applies the effects of a confirmed tip. Only the caller that
// actually applied them notifies the receiver.
func (c *Coordinator) settle(ctx context.Context, tip tipjar.Tip) error {
	applied, err := c.settler.ApplyTipEffects(ctx, tip)
	if err != nil {
		log.Printf("Coordinator: settlement of tip '%s' deferred to sweep: %v\n", tip.ID, err)
		return err
	}
	if !applied {
		return nil
	}
	c.send(tipjar.TIP_SETTLED, tip)
	n := tipjar.NewTipNotification(tip)
	if err := c.notify.Notify(n.UserID, n.Kind, n); err != nil {
		// best effort: settlement stands.
		log.Printf("Coordinator: notify '%s' for tip '%s': %v\n", n.UserID, tip.ID, err)
	}
	return nil
}

// SweepPending is the durable retry path. It returns abandoned locks to
// pending, processes up to batchSize tips idle for longer than maxAge,
// then settles confirmed tips whose effects were never applied.
func (c *Coordinator) SweepPending(ctx context.Context, maxAge time.Duration, batchSize int) (tipjar.SweepReport, error) {
	report := tipjar.SweepReport{}
	now := c.now()
	reverted, err := c.store.RevertStaleLocks(now.Add(-c.config.LockTimeout()))
	if err != nil {
		log.Println("Sweeper: RevertStaleLocks:", err)
		return report, err
	}
	report.StaleLocks = reverted
	if reverted > 0 {
		log.Printf("Sweeper: returned %d abandoned locks to pending\n", reverted)
	}

	tips, err := c.store.FindStalePending(now.Add(-maxAge), batchSize)
	if err != nil {
		log.Println("Sweeper: FindStalePending:", err)
		return report, err
	}
	workers := c.config.Workers
	if workers < 1 {
		workers = 1
	}
	pool := workerpool.New(workers)
	var processed, failures int64
	for _, tip := range tips {
		id := tip.ID
		pool.Submit(func() {
			ok, err := c.ProcessOne(ctx, id)
			if err != nil {
				atomic.AddInt64(&failures, 1)
				log.Printf("Sweeper: processing tip '%s': %v\n", id, err)
			}
			if ok {
				atomic.AddInt64(&processed, 1)
			}
		})
	}
	pool.StopWait()
	report.Found = len(tips)
	report.Processed = int(processed)

	unsettled, err := c.store.FindUnsettled(batchSize)
	if err != nil {
		log.Println("Sweeper: FindUnsettled:", err)
		return report, err
	}
	for _, tip := range unsettled {
		if ctx.Err() != nil {
			break
		}
		if c.settle(ctx, tip) == nil {
			report.Settled++
		}
	}
	metrics.SweepRuns.Inc()
	return report, nil
}

func (c *Coordinator) send(event tipjar.EVENT_TIP, tip tipjar.Tip) {
	err := c.bus.Send(event, tip.ToPublic(), fmt.Sprintf("%s-%s-%d", tip.ID, event, tip.Attempts))
	if err != nil {
		log.Printf("Coordinator: bus error for tip '%s': %v\n", tip.ID, err)
	}
}
