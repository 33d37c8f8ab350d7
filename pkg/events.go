package tipjar

// TipJar event types

// bus.Send(TIP_CONFIRMED, tip.ToPublic())
// bus.Send(USR_TIP_RECEIVED, notification)

// Interface for any event
type EventType interface {
	Type() string
}

// slice of all msg types for config funcs lookup
var EVENT_TYPES []EventType = []EventType{EVENT_ALL("ALL"),
	EVENT_SYS("SYS"),
	EVENT_TIP("TIP"),
	EVENT_USR("USR")}

// Special category, do not use directly, represents *
type EVENT_ALL string

func (e EVENT_ALL) Type() string {
	return "ALL"
}

// System Events
type EVENT_SYS string

func (e EVENT_SYS) Type() string {
	return "SYS"
}

const (
	SYS_STARTUP EVENT_SYS = "STARTUP"
	SYS_ERR     EVENT_SYS = "ERR"
	SYS_MSG     EVENT_SYS = "MSG"
)

// Tip lifecycle Events
type EVENT_TIP string

func (e EVENT_TIP) Type() string {
	return "TIP"
}

const (
	TIP_SUBMITTED EVENT_TIP = "SUBMITTED"
	TIP_RETRY     EVENT_TIP = "RETRY"
	TIP_CONFIRMED EVENT_TIP = "CONFIRMED"
	TIP_FAILED    EVENT_TIP = "FAILED"
	TIP_SETTLED   EVENT_TIP = "SETTLED"
)

// User notifications (delivered by receivers to push/email transports)
type EVENT_USR string

func (e EVENT_USR) Type() string {
	return "USR"
}

const (
	USR_TIP_RECEIVED EVENT_USR = "tip_received"
)

// FindEventTypes maps configured type names ("TIP", "ALL") to EventTypes,
// returning the names that did not match.
func FindEventTypes(names []string) (types []EventType, invalid []string) {
	for _, t := range names {
		match := false
		for _, x := range EVENT_TYPES {
			if t == x.Type() {
				match = true
				types = append(types, x)
			}
		}
		if !match {
			invalid = append(invalid, t)
		}
	}
	return
}
