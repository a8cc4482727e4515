package dialog

// ErrorKind classifies a failed turn for the Failed outcome and for
// structured error context.
type ErrorKind string

const (
	ErrKindInvalidInput     ErrorKind = "invalid_input"
	ErrKindUnavailable      ErrorKind = "unavailable"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindBudgetExceeded   ErrorKind = "budget_exceeded"
	ErrKindGroundingFailure ErrorKind = "grounding_failure"
)

// OutcomeKind tags the variant of a TurnOutcome.
type OutcomeKind string

const (
	OutcomeAnswered OutcomeKind = "answered"
	OutcomeClarify  OutcomeKind = "clarify"
	OutcomeEscalate OutcomeKind = "escalate"
	OutcomeFailed   OutcomeKind = "failed"
)

// TurnOutcome is the terminal result of one turn. It is never mutated
// after construction.
type TurnOutcome struct {
	Kind OutcomeKind

	// Answered
	Text      string
	FactsUsed []Fact

	// Clarify
	Question string
	Slot     SlotName

	// Escalate
	Reason string

	// Failed
	ErrKind ErrorKind
}

// Answered builds an Answered outcome carrying the verified facts that
// back the reply text.
func Answered(text string, facts []Fact) TurnOutcome {
	return TurnOutcome{Kind: OutcomeAnswered, Text: text, FactsUsed: facts}
}

// Clarify builds a Clarify outcome asking one question about one slot.
func Clarify(question string, slot SlotName) TurnOutcome {
	return TurnOutcome{Kind: OutcomeClarify, Text: question, Question: question, Slot: slot}
}

// Escalate builds an Escalate outcome with a policy reason.
func Escalate(reason, text string) TurnOutcome {
	return TurnOutcome{Kind: OutcomeEscalate, Reason: reason, Text: text}
}

// Failed builds a Failed outcome of the given kind.
func Failed(kind ErrorKind, text string) TurnOutcome {
	return TurnOutcome{Kind: OutcomeFailed, ErrKind: kind, Text: text}
}
