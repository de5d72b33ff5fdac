package interrupt

import (
	"context"
	"fmt"

	"github.com/MrWong99/turnguard/internal/observe"
)

// InputKind selects how the agent should treat delivered input.
type InputKind int

const (
	// InputUtterance is a normal user turn.
	InputUtterance InputKind = iota

	// InputAcknowledgement is a backchannel heard while the agent was
	// silent; the agent should answer lightly (e.g. continue) rather than
	// treat it as a full prompt.
	InputAcknowledgement
)

// String returns the lowercase name of k.
func (k InputKind) String() string {
	switch k {
	case InputUtterance:
		return "utterance"
	case InputAcknowledgement:
		return "acknowledgement"
	default:
		return "unknown"
	}
}

// Input is user text handed to the agent.
type Input struct {
	Text string
	Kind InputKind
}

// Sink is implemented by the agent/session collaborator that owns audio
// output and turn handling.
type Sink interface {
	// CancelOutput stops the agent's current synthesised output. It returns
	// once the cancellation has been acknowledged.
	CancelOutput(ctx context.Context) error

	// DeliverInput hands user text to the agent.
	DeliverInput(ctx context.Context, in Input) error
}

// Action is the side effect a [Dispatcher] performed.
type Action int

const (
	// ActionNone: nothing was sent to the sink.
	ActionNone Action = iota

	// ActionCancelOutput: the agent was interrupted.
	ActionCancelOutput

	// ActionDeliverInput: the transcript was delivered as an utterance.
	ActionDeliverInput

	// ActionAcknowledge: the transcript was delivered as an acknowledgement.
	ActionAcknowledge
)

// String returns the snake_case action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCancelOutput:
		return "cancel_output"
	case ActionDeliverInput:
		return "deliver_input"
	case ActionAcknowledge:
		return "acknowledge"
	default:
		return "unknown"
	}
}

// Dispatcher turns decisions into side effects on a [Sink].
type Dispatcher struct {
	sink    Sink
	state   *StateStore
	vocab   *Vocabulary
	metrics *observe.Metrics
}

// NewDispatcher returns a Dispatcher. metrics may be nil, in which case
// [observe.DefaultMetrics] is used.
func NewDispatcher(sink Sink, state *StateStore, vocab *Vocabulary, metrics *observe.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{sink: sink, state: state, vocab: vocab, metrics: metrics}
}

// Dispatch performs the side effect for d. The agent state is set to
// [StateSilent] only after the sink acknowledged the cancellation.
func (p *Dispatcher) Dispatch(ctx context.Context, d Decision, text string) (Action, error) {
	if d.Interrupt {
		if err := p.sink.CancelOutput(ctx); err != nil {
			p.metrics.RecordDispatchError(ctx, ActionCancelOutput.String())
			return ActionNone, fmt.Errorf("interrupt: cancel output: %w", err)
		}
		p.state.Set(StateSilent)
		return ActionCancelOutput, nil
	}

	if d.Reason != ReasonAgentSilentProcessInput {
		// Ignored backchannels, gated and superseded fragments.
		return ActionNone, nil
	}

	in := Input{Text: text, Kind: InputUtterance}
	action := ActionDeliverInput
	if p.state.Get() == StateSilent && p.vocab.IsSoftOnly(p.vocab.Normalizer().Normalize(text)) {
		in.Kind = InputAcknowledgement
		action = ActionAcknowledge
	}
	if err := p.sink.DeliverInput(ctx, in); err != nil {
		p.metrics.RecordDispatchError(ctx, action.String())
		return ActionNone, fmt.Errorf("interrupt: deliver %s: %w", in.Kind, err)
	}
	return action, nil
}
