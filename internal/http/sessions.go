package http

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fyrsmithlabs/formextract/internal/pipeline"
)

// sessionStore keeps per-session form state in memory, bounded by count
// and idle time. Concurrent requests on one session are last-write-wins.
type sessionStore struct {
	lru *expirable.LRU[string, pipeline.FieldState]
}

func newSessionStore(size int, ttl time.Duration) *sessionStore {
	return &sessionStore{lru: expirable.NewLRU[string, pipeline.FieldState](size, nil, ttl)}
}

func (s *sessionStore) get(id string) (pipeline.FieldState, bool) {
	st, ok := s.lru.Get(id)
	if !ok {
		return pipeline.FieldState{}, false
	}
	return st.Clone(), true
}

func (s *sessionStore) put(id string, st pipeline.FieldState) {
	s.lru.Add(id, st.Clone())
}

func (s *sessionStore) remove(id string) bool {
	return s.lru.Remove(id)
}

func (s *sessionStore) len() int {
	return s.lru.Len()
}
