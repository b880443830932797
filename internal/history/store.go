package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/pkg/metrics"
)

// ErrNotFound is returned for unknown or evicted conversations.
var ErrNotFound = errors.New("conversation not found")

type entry struct {
	conv     model.Conversation
	messages []model.Message
}

// Store keeps recent conversations in a bounded LRU cache. The least
// recently used conversation is evicted once maxConversations is reached,
// and each conversation keeps at most maxMessages turns.
type Store struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, *entry]
	maxMessages int
}

// NewStore creates a store holding up to maxConversations conversations of
// up to maxMessages turns each.
func NewStore(maxConversations, maxMessages int) (*Store, error) {
	cache, err := lru.NewWithEvict[string, *entry](maxConversations, func(string, *entry) {
		metrics.ConversationsActive.Dec()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create history cache: %w", err)
	}
	return &Store{cache: cache, maxMessages: maxMessages}, nil
}

// Create starts a new conversation.
func (s *Store) Create(req *model.CreateConversationRequest) model.Conversation {
	now := time.Now()
	conv := model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(conv.ID, &entry{conv: conv})
	metrics.ConversationsActive.Inc()
	return conv
}

// Get returns the conversation and a copy of its turns.
func (s *Store) Get(id string) (*model.ConversationHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &model.ConversationHistory{
		Conversation: e.conv,
		Messages:     clone(e.messages),
	}, nil
}

// Append adds turns to a conversation, dropping the oldest beyond the cap.
func (s *Store) Append(id string, msgs ...model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	e.messages = append(e.messages, msgs...)
	if s.maxMessages > 0 && len(e.messages) > s.maxMessages {
		e.messages = clone(e.messages[len(e.messages)-s.maxMessages:])
	}
	e.conv.MessageCount += len(msgs)
	e.conv.UpdatedAt = time.Now()
	return nil
}

// Delete forgets a conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cache.Remove(id) {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of cached conversations.
func (s *Store) Len() int {
	return s.cache.Len()
}
