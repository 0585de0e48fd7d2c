package update

// State is the process-wide update state.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateUpToDate
	StateUpdateAvailable
	StateDownloading
	StateStaged
	StateSwapping
	// StateRestartPending is terminal: the process exits next.
	StateRestartPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateUpToDate:
		return "up_to_date"
	case StateUpdateAvailable:
		return "update_available"
	case StateDownloading:
		return "downloading"
	case StateStaged:
		return "staged"
	case StateSwapping:
		return "swapping"
	case StateRestartPending:
		return "restart_pending"
	default:
		return "unknown"
	}
}
