// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Loopback is an in-memory Backend for tests and single-process
// experimentation; it never touches disk or the network.
type Loopback struct {
	mu      sync.Mutex
	objects map[string][]byte
	order   map[string][]string // prefix -> locators, insertion order
}

// NewLoopback returns an empty in-memory Backend.
func NewLoopback() *Loopback {
	return &Loopback{objects: make(map[string][]byte), order: make(map[string][]string)}
}

func (l *Loopback) Put(ctx context.Context, prefix string, blobType BlobType, id string, data []byte) (string, error) {
	locator := locatorFor(prefix, blobType, id)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.objects[locator]; !exists {
		l.order[prefix] = append(l.order[prefix], locator)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	l.objects[locator] = stored
	return locator, nil
}

func (l *Loopback) Get(ctx context.Context, locator string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.objects[locator]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "backend: object not found: "+locator)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (l *Loopback) Delete(ctx context.Context, locator string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.objects, locator)
	return nil
}

func (l *Loopback) Enumerate(ctx context.Context, prefix string, sinceCursor string) ([]Entry, error) {
	l.mu.Lock()
	locators := append([]string(nil), l.order[prefix]...)
	l.mu.Unlock()

	sort.Strings(locators)

	var out []Entry
	for _, locator := range locators {
		if sinceCursor != "" && locator <= sinceCursor {
			continue
		}
		_, blobType, id, err := parseLocator(locator)
		if err != nil {
			continue
		}
		out = append(out, Entry{Locator: locator, Type: blobType, ID: id, Cursor: locator})
	}
	return out, nil
}
