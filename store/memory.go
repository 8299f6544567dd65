package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/midbel/xquery/xml"
)

type memoryEntry struct {
	Entry
	content string
}

type memoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryEntry
}

func Memory() Store {
	return &memoryStore{
		docs: make(map[string]memoryEntry),
	}
}

func (s *memoryStore) Document(_ context.Context, uri string) (*xml.Document, error) {
	s.mu.RLock()
	e, ok := s.docs[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return deserialize(uri, e.content)
}

func (s *memoryStore) Put(ctx context.Context, uri string, doc *xml.Document) (Entry, error) {
	return putOne(ctx, s, uri, doc)
}

func (s *memoryStore) PutAll(_ context.Context, writes []Write) ([]Entry, error) {
	list := make([]memoryEntry, 0, len(writes))
	for _, w := range writes {
		if err := checkURI(w.URI); err != nil {
			return nil, err
		}
		content := serialize(w.Document)
		list = append(list, memoryEntry{
			Entry:   newEntry(w.URI, content),
			content: content,
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(list))
	for _, e := range list {
		s.docs[e.URI] = e
		entries = append(entries, e.Entry)
	}
	return entries, nil
}

func (s *memoryStore) Stat(_ context.Context, uri string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[uri]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return e.Entry, nil
}

func (s *memoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []Entry
	for _, uri := range slices.Sorted(maps.Keys(s.docs)) {
		list = append(list, s.docs[uri].Entry)
	}
	return list, nil
}

func (s *memoryStore) Remove(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[uri]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	delete(s.docs, uri)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.docs)
	return nil
}

