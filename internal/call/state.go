package call

// State is the lifecycle position of a PeerSession.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateDescriptionsExchanged
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateDescriptionsExchanged:
		return "descriptions-exchanged"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Phase qualifies StateConnecting with the side whose description is outstanding.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseLocalOfferPending
	PhaseRemoteOfferPending
)

func (p Phase) String() string {
	switch p {
	case PhaseLocalOfferPending:
		return "local-offer-pending"
	case PhaseRemoteOfferPending:
		return "remote-offer-pending"
	default:
		return ""
	}
}
