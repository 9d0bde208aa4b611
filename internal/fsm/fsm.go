package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateAccepting    State = "accepting"
	StateRelaying     State = "relaying"
	StateShuttingDown State = "shutting_down"
)

const (
	EventListen     Event = "listen"
	EventAccept     Event = "accept"
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
	EventShutdown   Event = "shutdown"
)

// Transition returns the next relay server state. Shutdown is reachable from every state.
func Transition(current State, event Event) (State, error) {
	if event == EventShutdown {
		switch current {
		case StateIdle, StateListening, StateAccepting, StateRelaying, StateShuttingDown:
			return StateShuttingDown, nil
		default:
			return current, fmt.Errorf("unknown state %q", current)
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventListen:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventAccept:
			return StateAccepting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAccepting:
		switch event {
		case EventConnect:
			return StateRelaying, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRelaying:
		switch event {
		case EventDisconnect:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateShuttingDown:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Serving reports whether the relay endpoint is open for clients in state s.
func Serving(s State) bool {
	return s == StateListening || s == StateAccepting || s == StateRelaying
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
