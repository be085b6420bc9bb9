package conversation

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store is the in-memory registry of live conversations, keyed by
// identifier. Conversations live until process shutdown; there is no
// deletion path.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewStore returns an empty registry.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
	}
}

// Create allocates a fresh conversation with a collision-checked id and
// registers it.
func (s *Store) Create(instructions string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		id = fmt.Sprintf("conversation-%x", uuid.New())
		if _, exists := s.conversations[id]; !exists {
			break
		}
	}

	c := newConversation(id, instructions)
	s.conversations[id] = c
	return c
}

// Get looks up a conversation by id.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// GetOrCreate looks up a conversation, registering a new one under the
// requested id on miss.
func (s *Store) GetOrCreate(id, instructions string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return c
	}
	c := newConversation(id, instructions)
	s.conversations[id] = c
	return c
}

// Len returns the number of registered conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
