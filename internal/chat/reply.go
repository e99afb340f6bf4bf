// Package chat drives the WhatsApp-style booking conversation: a per-user
// state machine over the booking and schedule services, with an optional
// LLM agent for everything outside the flow.
package chat

// Outcome classifies a reply so transports and tests can tell a re-prompt
// from real progress without parsing message text.
type Outcome string

const (
	// OutcomeMessage is a plain conversational reply outside the booking
	// flow.
	OutcomeMessage Outcome = "message"
	// OutcomeAdvance means the flow moved to a new step and awaits input.
	OutcomeAdvance Outcome = "advance"
	// OutcomeRetry means the input was not understood and the same step
	// was re-prompted.
	OutcomeRetry Outcome = "retry"
	// OutcomeCompleted means an appointment was persisted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAborted means the flow was reset and must be restarted.
	OutcomeAborted Outcome = "aborted"
	// OutcomeError means an infrastructure failure reset the flow.
	OutcomeError Outcome = "error"
)

// Button is a quick-reply option rendered by button-capable channels.
// Value is what the channel sends back when tapped.
type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type Reply struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Step    Step     `json:"step,omitempty"`
}
