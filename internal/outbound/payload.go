// Package outbound unifies everything the runtime sends back to a channel
// behind one dispatch path. Callers build a tagged payload (text, status,
// choice, reaction), the normalizer folds status and choice down to text, and
// the dispatcher hands the result to the owning channel boundary.
package outbound

import (
	"fmt"
	"strings"

	"github.com/courierhq/courier/internal/routing"
)

// Kind identifies the payload variant.
type Kind string

const (
	KindText     Kind = "text"
	KindStatus   Kind = "status"
	KindChoice   Kind = "choice"
	KindReaction Kind = "reaction"
)

// Status describes agent progress for status payloads.
type Status string

const (
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Payload is the tagged outbound variant. Exactly one of the pointer fields
// is non-nil, matching Kind.
type Payload struct {
	Kind Kind `json:"kind"`

	// Route targets the delivery. Never nil for dispatched payloads.
	Route *routing.AgentRoute `json:"route"`

	// CorrelationID links the payload back to the inbound message that
	// triggered it, when there is one.
	CorrelationID string `json:"correlationId,omitempty"`

	Text     *TextPayload     `json:"text,omitempty"`
	Status   *StatusPayload   `json:"status,omitempty"`
	Choice   *ChoicePayload   `json:"choice,omitempty"`
	Reaction *ReactionPayload `json:"reaction,omitempty"`
}

// TextPayload is a plain text message.
type TextPayload struct {
	Text string `json:"text"`
}

// StatusPayload reports agent progress.
type StatusPayload struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ChoiceOption is one selectable answer in a choice payload.
type ChoiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ChoicePayload asks the user to pick from a list.
type ChoicePayload struct {
	Question string         `json:"question"`
	Choices  []ChoiceOption `json:"choices"`
}

// ReactionPayload attaches an emoji reaction to an earlier message.
type ReactionPayload struct {
	TargetMessageID string `json:"targetMessageId"`
	Reaction        string `json:"reaction"`
}

// NewText builds a text payload.
func NewText(route *routing.AgentRoute, text string) *Payload {
	return &Payload{Kind: KindText, Route: route, Text: &TextPayload{Text: text}}
}

// NewStatus builds a status payload.
func NewStatus(route *routing.AgentRoute, status Status, message string) *Payload {
	return &Payload{Kind: KindStatus, Route: route, Status: &StatusPayload{Status: status, Message: message}}
}

// NewChoice builds a choice payload.
func NewChoice(route *routing.AgentRoute, question string, choices []ChoiceOption) *Payload {
	return &Payload{Kind: KindChoice, Route: route, Choice: &ChoicePayload{Question: question, Choices: choices}}
}

// NewReaction builds a reaction payload.
func NewReaction(route *routing.AgentRoute, targetMessageID, reaction string) *Payload {
	return &Payload{Kind: KindReaction, Route: route, Reaction: &ReactionPayload{TargetMessageID: targetMessageID, Reaction: reaction}}
}

// Validate checks that the payload carries a route and the variant matching
// its kind.
func (p *Payload) Validate() error {
	if p == nil {
		return fmt.Errorf("outbound: nil payload")
	}
	if p.Route == nil {
		return fmt.Errorf("outbound: payload has no route")
	}
	switch p.Kind {
	case KindText:
		if p.Text == nil {
			return fmt.Errorf("outbound: text payload missing body")
		}
	case KindStatus:
		if p.Status == nil {
			return fmt.Errorf("outbound: status payload missing body")
		}
	case KindChoice:
		if p.Choice == nil {
			return fmt.Errorf("outbound: choice payload missing body")
		}
	case KindReaction:
		if p.Reaction == nil {
			return fmt.Errorf("outbound: reaction payload missing body")
		}
	default:
		return fmt.Errorf("outbound: unknown payload kind %q", p.Kind)
	}
	return nil
}

// Normalize folds status and choice payloads down to text so every boundary
// only has to deliver text and reactions. Text and reaction payloads are
// returned unchanged, same pointer.
func Normalize(p *Payload) *Payload {
	switch p.Kind {
	case KindStatus:
		out := NewText(p.Route, p.Status.Message)
		out.CorrelationID = p.CorrelationID
		return out
	case KindChoice:
		out := NewText(p.Route, RenderChoice(p.Choice.Question, p.Choice.Choices))
		out.CorrelationID = p.CorrelationID
		return out
	default:
		return p
	}
}

// RenderChoice renders a choice prompt as numbered text:
//
//	{question}
//
//	1. {label}
//	2. {label}
func RenderChoice(question string, choices []ChoiceOption) string {
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\n")
	for i, c := range choices {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, c.Label)
	}
	return b.String()
}
