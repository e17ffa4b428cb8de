// Package store holds the pool of pending messages awaiting a winning flash.
package store

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the pending pool; the oldest entry is evicted when
// a 501st message arrives.
const DefaultCapacity = 500

// Pending is one stored message: who sent it and its opaque body.
type Pending struct {
	MsgID  uuid.UUID
	Sender uuid.UUID
	Body   []byte
}

// Store is a bounded insertion-ordered map from message-id to Pending.
// Eviction is strictly FIFO among keys not subsequently re-inserted;
// re-inserting an existing key overwrites it and moves it to newest.
// Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	cap   int
	order *list.List // of Pending, front = oldest
	byID  map[uuid.UUID]*list.Element
}

// New creates a Store with the given capacity; capacity <= 0 selects
// DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		cap:   capacity,
		order: list.New(),
		byID:  make(map[uuid.UUID]*list.Element),
	}
}

// Insert records a pending message. A colliding msg-id is a benign
// overwrite: the entry is replaced and moved to the newest position.
func (s *Store) Insert(msgID, sender uuid.UUID, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.byID[msgID]; ok {
		el.Value = Pending{MsgID: msgID, Sender: sender, Body: body}
		s.order.MoveToBack(el)
		return
	}
	if s.order.Len() >= s.cap {
		oldest := s.order.Front()
		delete(s.byID, oldest.Value.(Pending).MsgID)
		s.order.Remove(oldest)
	}
	s.byID[msgID] = s.order.PushBack(Pending{MsgID: msgID, Sender: sender, Body: body})
}

// Extract removes and returns the pending message for msgID. The second
// return is false when the id is absent (already won, evicted, or never
// seen). A given key is returned by at most one Extract call; the winner of
// concurrent extracts is decided by lock acquisition order.
func (s *Store) Extract(msgID uuid.UUID) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.byID[msgID]
	if !ok {
		return Pending{}, false
	}
	delete(s.byID, msgID)
	s.order.Remove(el)
	return el.Value.(Pending), true
}

// Len reports the number of pending messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Contains reports whether msgID is pending.
func (s *Store) Contains(msgID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[msgID]
	return ok
}
