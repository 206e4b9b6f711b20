package workflow

import "fmt"

// Route is the router's decision for one inbound message.
type Route struct {
	// Handler is the phase whose handler receives the message.
	Handler Phase
	// Reset starts a fresh session before handling, used after END.
	Reset bool
}

// Router dispatches messages to phase handlers from persisted state alone.
type Router struct{}

// Route picks the handler for in given s. Confirmations must already have been
// validated against the pending checkpoint; they go to the checkpoint's owner.
func (Router) Route(s SessionState, in Inbound) (Route, error) {
	if conf, ok := in.(CheckpointConfirmation); ok && s.Checkpoint != nil && s.Checkpoint.Matches(conf) {
		return Route{Handler: s.Checkpoint.Owner}, nil
	}

	switch s.Phase {
	case PhaseUnset:
		return Route{Handler: PhaseIntake}, nil
	case PhaseEnd:
		return Route{Handler: PhaseIntake, Reset: true}, nil
	case PhaseIntake:
		return Route{Handler: PhaseIntake}, nil
	case PhaseAdvise:
		return Route{Handler: PhaseAdvise}, nil
	case PhaseResearch:
		switch in.(type) {
		case Continuation:
			return Route{Handler: PhaseResearch}, nil
		case UserText:
			if s.AwaitingFieldEdits || (s.Checkpoint != nil && s.Checkpoint.Kind == CheckpointFields) {
				return Route{Handler: PhaseResearch}, nil
			}
			return Route{Handler: PhaseAdvise}, nil
		default:
			return Route{Handler: PhaseAdvise}, nil
		}
	default:
		return Route{}, fmt.Errorf("unknown phase %q", s.Phase)
	}
}
