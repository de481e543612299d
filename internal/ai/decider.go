// Package ai is the boundary to the AI decision provider. Given a case and
// the newest customer message, the provider picks one of four actions; the
// orchestrator applies it. Everything here fails open: a provider error
// returns to the caller with no partial mutation anywhere.
package ai

import (
	"context"

	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
)

// Action is the decision the provider reaches for an inbound message.
type Action string

const (
	// ActionReply answers the customer with generated content.
	ActionReply Action = "reply"
	// ActionEscalate routes the case to a human queue.
	ActionEscalate Action = "escalate"
	// ActionAutoResolve closes the case; the customer expressed closure.
	ActionAutoResolve Action = "auto_resolve"
	// ActionIgnore takes no action, e.g. for a bare acknowledgement.
	ActionIgnore Action = "ignore"
)

// IsValid checks if the action is one the orchestrator knows how to apply.
func (a Action) IsValid() bool {
	switch a {
	case ActionReply, ActionEscalate, ActionAutoResolve, ActionIgnore:
		return true
	default:
		return false
	}
}

// DecisionInput is everything the provider sees.
type DecisionInput struct {
	Case       *directory.Case
	NewMessage *conversation.Message
	History    []*conversation.Message

	// NewTopic marks the new message as the start of a fresh topic rather
	// than a continuation (set after an idle-customer intervention).
	NewTopic bool
}

// Decision is the provider's answer.
type Decision struct {
	Action            Action `json:"action"`
	Content           string `json:"content,omitempty"`
	Confidence        int    `json:"confidence"`
	EscalationReason  string `json:"escalation_reason,omitempty"`
	EscalationSummary string `json:"escalation_summary,omitempty"`
}

// Decider is the AI decision provider collaborator.
type Decider interface {
	Decide(ctx context.Context, input DecisionInput) (*Decision, error)
}
