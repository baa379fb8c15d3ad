package engine

import "fmt"

// State of the session with the engine.
type State int

const (
	Disconnected State = iota
	Connected
	Starting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canSend reports whether control messages go out in this state.
func (s State) canSend() bool {
	return s == Starting || s == Ready
}
