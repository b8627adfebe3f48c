package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is a process-local LRU Store.
type Memory struct {
	lru *lru.Cache[string, Entry]
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{lru: l}, nil
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := m.lru.Get(key)
	return e, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, e Entry) error {
	m.lru.Add(key, e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Len() int { return m.lru.Len() }
