package room

import (
	"slices"
	"sync"
	"time"
)

// QueueEntry is a prospective counterparty waiting on a merchant.
type QueueEntry struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Queue holds one merchant's incoming requests. Entries move from requests
// (unscreened) to queued (accepted) and are removed when a room is created or
// the request is rejected. Both lists are newest first.
type Queue struct {
	mu       sync.Mutex
	requests []QueueEntry
	queued   []QueueEntry
	now      func() time.Time
}

func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Add records a request from sender. A repeat request moves to the front with
// a fresh time; a sender already accepted is left where it is and added is false.
func (q *Queue) Add(senderID, senderName string) (entry QueueEntry, added bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := indexOf(q.queued, senderID); i >= 0 {
		return q.queued[i], false
	}
	if i := indexOf(q.requests, senderID); i >= 0 {
		q.requests = slices.Delete(q.requests, i, i+1)
	}

	entry = QueueEntry{SenderID: senderID, SenderName: senderName, CreatedAt: q.now()}
	q.requests = slices.Insert(q.requests, 0, entry)
	return entry, true
}

// Accept moves a request into the queue.
func (q *Queue) Accept(senderID string) (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := indexOf(q.requests, senderID)
	if i < 0 {
		return QueueEntry{}, ErrNotQueued
	}
	entry := q.requests[i]
	q.requests = slices.Delete(q.requests, i, i+1)
	q.queued = slices.Insert(q.queued, 0, entry)
	return entry, nil
}

// Reject drops a request, accepted or not.
func (q *Queue) Reject(senderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := indexOf(q.requests, senderID); i >= 0 {
		q.requests = slices.Delete(q.requests, i, i+1)
		return nil
	}
	if i := indexOf(q.queued, senderID); i >= 0 {
		q.queued = slices.Delete(q.queued, i, i+1)
		return nil
	}
	return ErrNotQueued
}

// Remove takes an accepted sender out of the queue once their room exists.
func (q *Queue) Remove(senderID string) (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := indexOf(q.queued, senderID)
	if i < 0 {
		return QueueEntry{}, ErrNotQueued
	}
	entry := q.queued[i]
	q.queued = slices.Delete(q.queued, i, i+1)
	return entry, nil
}

// Requeue puts back an entry taken by Remove, in its original place, when the
// room could not be created after all.
func (q *Queue) Requeue(entry QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if indexOf(q.queued, entry.SenderID) >= 0 {
		return
	}
	if i := indexOf(q.requests, entry.SenderID); i >= 0 {
		q.requests = slices.Delete(q.requests, i, i+1)
	}
	i := slices.IndexFunc(q.queued, func(e QueueEntry) bool { return e.CreatedAt.Before(entry.CreatedAt) })
	if i < 0 {
		i = len(q.queued)
	}
	q.queued = slices.Insert(q.queued, i, entry)
}

func (q *Queue) Requests() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.requests)
}

func (q *Queue) Queued() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.queued)
}

func indexOf(entries []QueueEntry, senderID string) int {
	return slices.IndexFunc(entries, func(e QueueEntry) bool { return e.SenderID == senderID })
}
