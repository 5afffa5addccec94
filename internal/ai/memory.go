package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryHistory keeps conversations in process memory.
type MemoryHistory struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{convs: make(map[string]*Conversation)}
}

func (m *MemoryHistory) Start(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.Ref == "" {
		return errors.New("conversation ref is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[conv.Ref]; ok {
		return fmt.Errorf("conversation %s already exists", conv.Ref)
	}
	copied := *conv
	copied.Turns = append([]Turn(nil), conv.Turns...)
	m.convs[conv.Ref] = &copied
	return nil
}

func (m *MemoryHistory) Load(_ context.Context, ref string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, ref)
	}
	copied := *conv
	copied.Turns = append([]Turn(nil), conv.Turns...)
	return &copied, nil
}

func (m *MemoryHistory) Append(_ context.Context, ref string, turns ...Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, ref)
	}
	conv.Turns = append(conv.Turns, turns...)
	return nil
}
