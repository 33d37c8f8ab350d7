package settlement

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/store"
)

const (
	alice tipjar.Address = "0x1111111111111111111111111111111111111111"
	bob   tipjar.Address = "0x2222222222222222222222222222222222222222"
)

// confirmedTip stores a tip and walks it to confirmed.
func confirmedTip(t *testing.T, s tipjar.Store, amount string) tipjar.Tip {
	now := time.Now()
	_, err := s.InsertPending(tipjar.Tip{
		ID:            "tip-1",
		ChainTxID:     "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		FromAddress:   alice,
		ToAddress:     bob,
		ClaimedAmount: decimal.RequireFromString(amount),
		TokenSymbol:   "SURGE",
		TargetRef:     "post-1",
		CreatedAt:     now,
	})
	require.NoError(t, err)
	ok, err := s.TryLock("tip-1", now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkConfirmed("tip-1", decimal.RequireFromString(amount), 100, now)
	require.NoError(t, err)
	require.True(t, ok)
	tip, err := s.GetTip("tip-1")
	require.NoError(t, err)
	return tip
}

func newStore(t *testing.T) *store.SQLStore {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.RegisterTarget(tipjar.Target{Ref: "post-1", Owner: bob}))
	return s
}

func TestApplyTipEffects(t *testing.T) {
	s := newStore(t)
	tip := confirmedTip(t, s, "5.0")
	agg := NewAggregator(s, decimal.NewFromInt(10))

	applied, err := agg.ApplyTipEffects(context.Background(), tip)
	require.NoError(t, err)
	assert.True(t, applied)

	sender, err := s.GetAgentStats(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sender.TipsGivenCount)
	assert.True(t, sender.TipsGivenAmount.Equal(decimal.RequireFromString("5")))
	assert.Equal(t, int64(0), sender.TipsReceivedCount)
	assert.True(t, sender.ReputationScore.IsZero())

	receiver, err := s.GetAgentStats(bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), receiver.TipsReceivedCount)
	assert.True(t, receiver.TipsReceivedAmount.Equal(decimal.RequireFromString("5")))
	assert.True(t, receiver.ReputationScore.Equal(decimal.RequireFromString("50")), receiver.ReputationScore.String())

	target, err := s.GetTarget("post-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), target.TipCount)
	assert.True(t, target.TipAmount.Equal(decimal.RequireFromString("5")))

	got, err := s.GetTip("tip-1")
	require.NoError(t, err)
	assert.True(t, got.EffectsApplied)
	assert.False(t, got.EffectsAppliedAt.IsZero())
}

func TestApplyTipEffectsAtMostOnce(t *testing.T) {
	s := newStore(t)
	tip := confirmedTip(t, s, "2.5")
	agg := NewAggregator(s, decimal.NewFromInt(10))

	var appliedCount int32
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := agg.ApplyTipEffects(context.Background(), tip)
			assert.NoError(t, err)
			if applied {
				atomic.AddInt32(&appliedCount, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), appliedCount)

	receiver, err := s.GetAgentStats(bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), receiver.TipsReceivedCount)
	assert.True(t, receiver.TipsReceivedAmount.Equal(decimal.RequireFromString("2.5")))
}

func TestApplyTipEffectsRequiresConfirmed(t *testing.T) {
	s := newStore(t)
	now := time.Now()
	pending := tipjar.Tip{
		ID:            "tip-2",
		ChainTxID:     "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		FromAddress:   alice,
		ToAddress:     bob,
		ClaimedAmount: decimal.RequireFromString("1"),
		TargetRef:     "post-1",
		CreatedAt:     now,
	}
	_, err := s.InsertPending(pending)
	require.NoError(t, err)

	applied, err := NewAggregator(s, decimal.NewFromInt(10)).ApplyTipEffects(context.Background(), pending)
	require.NoError(t, err)
	assert.False(t, applied)
	stats, _ := s.GetAgentStats(bob)
	assert.Equal(t, int64(0), stats.TipsReceivedCount)
}
