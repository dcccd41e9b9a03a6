package chat

import "fmt"

// State is a stage of a streamed chat request.
type State string

const (
	StateInit               State = "init"
	StateSessionResolved    State = "session_resolved"
	StateSandboxAcquired    State = "sandbox_acquired"
	StateRAGAugmented       State = "rag_augmented"
	StateReplyReceived      State = "reply_received"
	StateArtifactsExtracted State = "artifacts_extracted"
	StateStreaming          State = "streaming"
	StateDone               State = "done"
	StateError              State = "error"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateInit: {
		StateSessionResolved: {},
		StateError:           {},
	},
	StateSessionResolved: {
		StateSandboxAcquired: {},
		StateError:           {},
	},
	StateSandboxAcquired: {
		StateRAGAugmented:  {},
		StateReplyReceived: {},
		StateError:         {},
	},
	StateRAGAugmented: {
		StateReplyReceived: {},
		StateError:         {},
	},
	StateReplyReceived: {
		StateArtifactsExtracted: {},
		StateError:              {},
	},
	StateArtifactsExtracted: {
		StateStreaming: {},
		StateError:     {},
	},
	StateStreaming: {
		StateDone:  {},
		StateError: {},
	},
	StateDone:  {},
	StateError: {},
}

func ValidateState(state State) error {
	if _, ok := allowedTransitions[state]; !ok {
		return fmt.Errorf("invalid chat state: %q", state)
	}
	return nil
}

func ValidateTransition(from, to State) error {
	if err := ValidateState(from); err != nil {
		return err
	}
	if err := ValidateState(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid chat transition: %s -> %s", from, to)
	}
	return nil
}

// Terminal reports whether no transition leaves state.
func (s State) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}
