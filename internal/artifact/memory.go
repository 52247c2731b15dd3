package artifact

import (
	"context"
	"sync"
)

// Memory is an in-process artifact. It is used for scratch slots that never
// need to outlive the process.
type Memory struct {
	mu      sync.RWMutex
	name    string
	content *string
}

// NewMemory returns an empty in-memory artifact called name.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

func (m *Memory) Ref() Ref { return Ref{URI: "mem://" + m.name} }

func (m *Memory) Get(ctx context.Context) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.content == nil {
		return nil, nil
	}
	return &Content{Content: *m.content}, nil
}

func (m *Memory) Set(ctx context.Context, c Content) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := c.Content
	m.content = &v
	return WriteResult{Ref: m.Ref(), Bytes: len(v)}, nil
}

func (m *Memory) Del(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = nil
	return nil
}
