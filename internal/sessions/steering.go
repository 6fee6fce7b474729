package sessions

import (
	"strings"
	"time"
)

// MaxSteeringMessages bounds the per-session steering buffer.
const MaxSteeringMessages = 100

// steeringSeparator joins buffered messages on consume.
const steeringSeparator = "\n---\n"

// SteeringMessage is one buffered steering input.
type SteeringMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SteeringDropped records a message pushed out of a full buffer.
type SteeringDropped struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// steeringBuffer is a FIFO of steering messages with a hard cap. Callers
// hold the session lock.
type steeringBuffer struct {
	messages []SteeringMessage
}

// add appends a message. When the buffer would exceed the cap, the oldest
// entries are dropped and returned; drops are never silent.
func (b *steeringBuffer) add(text string, ts time.Time) []SteeringDropped {
	b.messages = append(b.messages, SteeringMessage{Text: text, Timestamp: ts})

	if len(b.messages) <= MaxSteeringMessages {
		return nil
	}

	over := len(b.messages) - MaxSteeringMessages
	dropped := make([]SteeringDropped, over)
	for i, m := range b.messages[:over] {
		dropped[i] = SteeringDropped{Text: m.Text, Timestamp: m.Timestamp}
	}
	b.messages = append(b.messages[:0], b.messages[over:]...)
	return dropped
}

// consume joins the buffered texts and clears the buffer.
func (b *steeringBuffer) consume() string {
	if len(b.messages) == 0 {
		return ""
	}
	texts := make([]string, len(b.messages))
	for i, m := range b.messages {
		texts[i] = m.Text
	}
	b.messages = nil
	return strings.Join(texts, steeringSeparator)
}

func (b *steeringBuffer) len() int { return len(b.messages) }

// drain returns and clears the raw messages, for kill reporting.
func (b *steeringBuffer) drain() []SteeringMessage {
	msgs := b.messages
	b.messages = nil
	return msgs
}
