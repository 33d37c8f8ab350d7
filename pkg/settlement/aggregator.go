package settlement

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/metrics"
)

const (
	CONFLICT_DELAY = 200 * time.Millisecond // first retry after a DBConflict
	MAX_CONFLICTS  = 4                      // retries before giving up (the sweep tries again later)
)

// Aggregator applies the effects of confirmed tips: agent counters,
// reputation, target aggregates and wallet history. All writes for one
// tip happen in a single store transaction gated by the tip's
// settlement-applied marker, so effects apply at most once.
type Aggregator struct {
	store            tipjar.Store
	reputationWeight decimal.Decimal
	now              func() time.Time
}

func NewAggregator(store tipjar.Store, reputationWeight decimal.Decimal) *Aggregator {
	return &Aggregator{
		store:            store,
		reputationWeight: reputationWeight,
		now:              time.Now,
	}
}

// ApplyTipEffects settles a confirmed tip. It returns true only for the
// caller that actually applied the effects; false means they were already
// applied (or the tip is not confirmed). On error nothing was applied.
func (a *Aggregator) ApplyTipEffects(ctx context.Context, tip tipjar.Tip) (bool, error) {
	var applied bool
	op := func() error {
		var err error
		applied, err = a.applyOnce(tip)
		if err != nil && !tipjar.IsDBConflictError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = CONFLICT_DELAY
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, MAX_CONFLICTS), ctx))
	if err != nil {
		metrics.SettlementErrors.Inc()
		return false, err
	}
	if applied {
		metrics.SettlementsApplied.Inc()
	}
	return applied, nil
}

func (a *Aggregator) applyOnce(tip tipjar.Tip) (bool, error) {
	tx, err := a.store.Begin()
	if err != nil {
		log.Println("Settlement: store.Begin:", err)
		return false, err
	}
	defer tx.Rollback() // no-op after Commit

	now := a.now()
	claimed, err := tx.ClaimSettlement(tip.ID, now)
	if err != nil {
		log.Printf("Settlement: ClaimSettlement '%s': %v\n", tip.ID, err)
		return false, err
	}
	if !claimed {
		// already settled by another worker, or not confirmed.
		return false, nil
	}

	amount := tip.VerifiedAmount
	updates := []struct {
		wallet tipjar.Address
		field  tipjar.AgentStatField
		amount tipjar.TokenAmount
	}{
		{tip.FromAddress, tipjar.TipsGivenCount, amount},
		{tip.FromAddress, tipjar.TipsGivenAmount, amount},
		{tip.ToAddress, tipjar.TipsReceivedCount, amount},
		{tip.ToAddress, tipjar.TipsReceivedAmount, amount},
		{tip.ToAddress, tipjar.ReputationScore, amount.Mul(a.reputationWeight)},
	}
	for _, u := range updates {
		_, err = tx.IncrementAgentStats(u.wallet, u.field, u.amount)
		if err != nil {
			log.Printf("Settlement: IncrementAgentStats '%s' %s: %v\n", u.wallet, u.field, err)
			return false, err
		}
	}

	ok, err := tx.IncrementTipStats(tip.TargetRef, amount)
	if err != nil {
		log.Printf("Settlement: IncrementTipStats '%s': %v\n", tip.TargetRef, err)
		return false, err
	}
	if !ok {
		// the tip is still settled for both wallets.
		log.Printf("Settlement: target '%s' not found for tip '%s'\n", tip.TargetRef, tip.ID)
	}

	sides := []tipjar.WalletTxn{
		{Wallet: tip.FromAddress, Direction: tipjar.WalletSend, Counterparty: tip.ToAddress},
		{Wallet: tip.ToAddress, Direction: tipjar.WalletReceive, Counterparty: tip.FromAddress},
	}
	for _, w := range sides {
		w.ChainTxID = tip.ChainTxID
		w.TipID = tip.ID
		w.Amount = amount
		w.Timestamp = now
		err = tx.InsertWalletTxn(w)
		if err != nil {
			log.Printf("Settlement: InsertWalletTxn '%s' %s: %v\n", tip.ID, w.Direction, err)
			return false, err
		}
	}

	err = tx.Commit()
	if err != nil {
		log.Printf("Settlement: Commit '%s': %v\n", tip.ID, err)
		return false, err
	}
	log.Printf("Settlement: applied tip '%s' (%s %s to %s)\n", tip.ID, amount, tip.TokenSymbol, tip.ToAddress)
	return true, nil
}
