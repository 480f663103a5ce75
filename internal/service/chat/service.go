package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/z-tavern/relaybot/internal/model/chat"
)

var (
	ErrQuestionsRequired = errors.New("questionnaire needs at least one question")
	ErrSessionNotFound   = errors.New("session not found")
)

// Service is the session store: it owns every questionnaire session, keyed
// by chat identifier. Callers only ever see copies.
type Service struct {
	mu       sync.RWMutex
	sessions map[int64]*chat.Session
}

// NewService bootstraps an empty in-memory store.
func NewService() *Service {
	return &Service{
		sessions: make(map[int64]*chat.Session),
	}
}

// CreateSession starts a questionnaire for chatID, replacing any session
// already in progress for that chat.
func (s *Service) CreateSession(_ context.Context, chatID int64, questions []string) (chat.Session, error) {
	if len(questions) == 0 {
		return chat.Session{}, ErrQuestionsRequired
	}

	session := chat.NewSession(chatID, questions)

	s.mu.Lock()
	s.sessions[chatID] = &session
	s.mu.Unlock()

	return session.Clone(), nil
}

// GetSession retrieves the session for chatID.
func (s *Service) GetSession(_ context.Context, chatID int64) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[chatID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// RecordAnswer appends answer to the session and advances it by one
// question. The updated session is returned.
func (s *Service) RecordAnswer(_ context.Context, chatID int64, answer string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[chatID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if err := session.Advance(answer); err != nil {
		return chat.Session{}, err
	}
	return session.Clone(), nil
}

// DeleteSession drops the session for chatID. Missing sessions are ignored.
func (s *Service) DeleteSession(_ context.Context, chatID int64) {
	s.mu.Lock()
	delete(s.sessions, chatID)
	s.mu.Unlock()
}

// ActiveSessions returns the number of questionnaires in progress.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
