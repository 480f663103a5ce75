package chat

import (
	"errors"
	"time"
)

// ErrSessionComplete is returned when an answer arrives for a questionnaire
// that already collected every answer.
var ErrSessionComplete = errors.New("questionnaire already complete")

// Session tracks one chat's progress through the guided questionnaire.
// len(Answers) == Index holds between transitions.
type Session struct {
	ChatID    int64     `json:"chatId"`
	Questions []string  `json:"questions"`
	Answers   []string  `json:"answers"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSession starts a questionnaire at its first question.
func NewSession(chatID int64, questions []string) Session {
	return Session{
		ChatID:    chatID,
		Questions: append([]string(nil), questions...),
		Answers:   make([]string, 0, len(questions)),
		CreatedAt: time.Now().UTC(),
	}
}

// Pending returns the question awaiting an answer.
func (s Session) Pending() (string, bool) {
	if s.Index >= len(s.Questions) {
		return "", false
	}
	return s.Questions[s.Index], true
}

// Complete reports whether every question has been answered.
func (s Session) Complete() bool {
	return s.Index >= len(s.Questions)
}

// Advance records the answer to the pending question.
func (s *Session) Advance(answer string) error {
	if s.Complete() {
		return ErrSessionComplete
	}
	s.Answers = append(s.Answers, answer)
	s.Index++
	return nil
}

// Clone returns a copy that shares no slices with s.
func (s Session) Clone() Session {
	s.Questions = append([]string(nil), s.Questions...)
	s.Answers = append([]string(nil), s.Answers...)
	return s
}
