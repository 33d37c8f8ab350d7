package tipjar

import (
	"context"
	"time"
)

// TipProcessor runs the verification pipeline (see services.Coordinator).
type TipProcessor interface {
	SubmitTip(ctx context.Context, claim TipClaim) (Tip, error)
	ProcessOne(ctx context.Context, tipID string) (bool, error)
	SweepPending(ctx context.Context, maxAge time.Duration, batchSize int) (SweepReport, error)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StaleLocks int64 `json:"stale_locks"` // abandoned locks returned to pending
	Found      int   `json:"found"`       // stale pending tips found
	Processed  int   `json:"processed"`   // of those, locked and resolved by this sweep
	Settled    int   `json:"settled"`     // confirmed tips whose effects were applied
}

// API is the submission and query surface used by the web API.
type API struct {
	Store     Store
	Processor TipProcessor
	Config    Config
}

func NewAPI(store Store, processor TipProcessor, config Config) API {
	return API{store, processor, config}
}

type SubmitTipResponse struct {
	TipID  string    `json:"tip_id"`
	Status TipStatus `json:"status"`
}

func (a API) SubmitTip(ctx context.Context, claim TipClaim) (SubmitTipResponse, error) {
	tip, err := a.Processor.SubmitTip(ctx, claim)
	if err != nil {
		return SubmitTipResponse{}, err
	}
	return SubmitTipResponse{TipID: tip.ID, Status: tip.Status}, nil
}

func (a API) GetTip(id string) (PublicTip, error) {
	tip, err := a.Store.GetTip(id)
	if err != nil {
		return PublicTip{}, err
	}
	return tip.ToPublic(), nil
}

type ListTipsResponse struct {
	Items  []PublicTip `json:"items"`
	Cursor int64       `json:"cursor"`
}

func (a API) ListWalletTips(wallet Address, cursor int64, limit int) (ListTipsResponse, error) {
	wallet = NormalizeAddress(string(wallet))
	if !IsValidAddress(wallet) {
		return ListTipsResponse{}, NewErr(BadRequest, "invalid wallet address: %q", wallet)
	}
	items, next_cursor, err := a.Store.ListTipsByWallet(wallet, cursor, limit)
	if err != nil {
		return ListTipsResponse{}, err
	}
	return toListResponse(items, next_cursor), nil
}

func (a API) ListTargetTips(targetRef string, cursor int64, limit int) (ListTipsResponse, error) {
	_, err := a.Store.GetTarget(targetRef)
	if err != nil {
		return ListTipsResponse{}, err
	}
	items, next_cursor, err := a.Store.ListTipsByTarget(targetRef, cursor, limit)
	if err != nil {
		return ListTipsResponse{}, err
	}
	return toListResponse(items, next_cursor), nil
}

func toListResponse(items []Tip, next_cursor int64) ListTipsResponse {
	r := ListTipsResponse{
		Items:  []PublicTip{}, // encoded as '[]' in JSON
		Cursor: next_cursor,
	}
	for _, tip := range items {
		r.Items = append(r.Items, tip.ToPublic())
	}
	return r
}

func (a API) GetWalletStats(wallet Address) (AgentStats, error) {
	wallet = NormalizeAddress(string(wallet))
	if !IsValidAddress(wallet) {
		return AgentStats{}, NewErr(BadRequest, "invalid wallet address: %q", wallet)
	}
	return a.Store.GetAgentStats(wallet)
}

type RegisterTargetRequest struct {
	Owner Address `json:"owner"`
}

// RegisterTarget makes a target tippable (or changes its owner).
func (a API) RegisterTarget(targetRef string, request RegisterTargetRequest) (Target, error) {
	owner := NormalizeAddress(string(request.Owner))
	if !IsValidAddress(owner) {
		return Target{}, NewErr(BadRequest, "invalid owner address: %q", request.Owner)
	}
	err := a.Store.RegisterTarget(Target{Ref: targetRef, Owner: owner})
	if err != nil {
		return Target{}, err
	}
	return a.Store.GetTarget(targetRef)
}

// ProcessTip runs the pipeline for one tip now and returns its state.
func (a API) ProcessTip(ctx context.Context, id string) (PublicTip, error) {
	_, err := a.Store.GetTip(id)
	if err != nil {
		return PublicTip{}, err
	}
	_, err = a.Processor.ProcessOne(ctx, id)
	if err != nil {
		return PublicTip{}, err
	}
	return a.GetTip(id)
}

// Sweep runs one sweep with the configured staleness and batch size.
func (a API) Sweep(ctx context.Context) (SweepReport, error) {
	p := a.Config.Process
	return a.Processor.SweepPending(ctx, p.StaleAfter(), p.SweepBatchSize)
}
