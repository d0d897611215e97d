package session

import "career-compass/internal/domain"

// Action is a user intent passed to a controller's Dispatch. The set is
// closed: SendMessage, SelectAnswer, Reset and Retry.
type Action interface {
	actionName() string
}

// SendMessage posts a chat message, optionally with an attachment.
type SendMessage struct {
	Text       string
	Attachment *domain.Attachment
}

// SelectAnswer answers the pending quiz question.
type SelectAnswer struct {
	Answer string
}

// Reset clears the session locally and in the store and invalidates any
// response still in flight.
type Reset struct{}

// Retry re-requests the quiz step after a failed request left no question
// pending.
type Retry struct{}

func (SendMessage) actionName() string  { return "send_message" }
func (SelectAnswer) actionName() string { return "select_answer" }
func (Reset) actionName() string        { return "reset" }
func (Retry) actionName() string        { return "retry" }

func nameOf(a Action) string {
	if a == nil {
		return "nil"
	}
	return a.actionName()
}
