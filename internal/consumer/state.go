package consumer

// State is the lifecycle position of a Consumer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}
