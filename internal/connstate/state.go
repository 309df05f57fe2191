package connstate

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func parseState(name string) State {
	switch name {
	case "connecting":
		return Connecting
	case "connected":
		return Connected
	case "reconnecting":
		return Reconnecting
	default:
		return Disconnected
	}
}

type StateEvent struct {
	From State
	To   State
}
