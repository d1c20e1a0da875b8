package service

// State is a stage of one scrape cycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateFetching
	StateExtracting
	StatePersisting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StatePersisting:
		return "persisting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
