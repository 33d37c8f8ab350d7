package tipjar

import "log"

// NotificationSink delivers user-facing notifications. Delivery is best
// effort: an error is logged by the caller and never undoes settlement.
type NotificationSink interface {
	Notify(userID string, kind string, payload any) error
}

// TipNotification is the payload of a tip_received notification.
type TipNotification struct {
	UserID      string      `json:"user_id"`
	Kind        string      `json:"kind"`
	TipID       string      `json:"tip_id"`
	ChainTxID   string      `json:"chain_tx_id"`
	FromAddress Address     `json:"from_address"`
	Amount      TokenAmount `json:"amount"`
	TokenSymbol string      `json:"token_symbol"`
	TargetRef   string      `json:"target_ref"`
	Message     string      `json:"message,omitempty"`
}

// NewTipNotification builds the tip_received payload for the receiver.
func NewTipNotification(tip Tip) TipNotification {
	return TipNotification{
		UserID:      string(tip.ToAddress),
		Kind:        string(USR_TIP_RECEIVED),
		TipID:       tip.ID,
		ChainTxID:   tip.ChainTxID,
		FromAddress: tip.FromAddress,
		Amount:      tip.VerifiedAmount,
		TokenSymbol: tip.TokenSymbol,
		TargetRef:   tip.TargetRef,
		Message:     tip.Message,
	}
}

// BusNotifier publishes notifications on the MessageBus as USR events;
// configured receivers forward them to delivery transports.
type BusNotifier struct {
	bus MessageBus
}

var _ NotificationSink = BusNotifier{}

func NewBusNotifier(bus MessageBus) BusNotifier {
	return BusNotifier{bus: bus}
}

func (n BusNotifier) Notify(userID string, kind string, payload any) error {
	// one message per (user, tip) so receivers can de-duplicate
	msgID := userID
	if tn, ok := payload.(TipNotification); ok {
		msgID = "tip-" + tn.TipID
	}
	err := n.bus.Send(EVENT_USR(kind), payload, msgID)
	if err != nil {
		log.Printf("BusNotifier: dropped %s for %s: %v\n", kind, userID, err)
	}
	return err
}
