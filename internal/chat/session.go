package chat

import (
	"context"
	"sync"

	"github.com/bowerhall/parley/internal/discussion"
)

// Session is the per-connection state: which discussion the client is in and
// the bookkeeping for its single in-flight generation. Fields are guarded by
// mu because the cancel and disconnect handlers race against the worker; the
// worker itself is the only writer of the text buffer.
type Session struct {
	ConnectionID string

	mu              sync.Mutex
	disc            *discussion.Discussion
	buffer          string
	receivedTokens  int
	processing      bool
	cancelRequested bool
	cancelAcked     bool
	pendingDeletion bool
	workerCancel    context.CancelFunc
	workerDone      chan struct{}
}

func (s *Session) Discussion() *discussion.Discussion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disc
}

func (s *Session) SetDiscussion(d *discussion.Discussion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disc = d
}

func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// beginWork flips the session into processing state. It returns false if a
// worker is already live, which keeps the one-worker-per-session invariant
// without the caller holding any lock across the spawn.
func (s *Session) beginWork(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	s.cancelRequested = false
	s.cancelAcked = false
	s.buffer = ""
	s.receivedTokens = 0
	s.workerCancel = cancel
	s.workerDone = make(chan struct{})
	return true
}

// endWork clears processing state and reports whether the session was flagged
// for deletion while the worker ran.
func (s *Session) endWork() (pendingDeletion bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	if s.workerCancel != nil {
		s.workerCancel()
		s.workerCancel = nil
	}
	if s.workerDone != nil {
		close(s.workerDone)
		s.workerDone = nil
	}
	return s.pendingDeletion
}

func (s *Session) requestCancel() (done chan struct{}, cancel context.CancelFunc, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.processing {
		return nil, nil, false
	}
	s.cancelRequested = true
	return s.workerDone, s.workerCancel, true
}

// ackCancel consumes the cancel request. The first caller after a request
// gets true; later calls get false, so the cancelled event fires exactly once.
func (s *Session) ackCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelRequested || s.cancelAcked {
		return false
	}
	s.cancelAcked = true
	return true
}

func (s *Session) cancelPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested && !s.cancelAcked
}

func (s *Session) markForDeletion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDeletion = true
}

func (s *Session) appendBuffer(fragment string) (buffer string, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer += fragment
	s.receivedTokens++
	return s.buffer, s.receivedTokens
}

func (s *Session) replaceBuffer(content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = content
	s.receivedTokens++
	return s.receivedTokens
}

func (s *Session) setBuffer(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = content
}

func (s *Session) truncateBuffer(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < len(s.buffer) {
		s.buffer = s.buffer[:n]
	}
	return s.buffer
}

func (s *Session) bufferSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *Session) resetCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivedTokens = 0
}

// Registry maps connection ids to sessions. It is the only chat structure
// touched by more than one logical owner, so every map operation locks.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a fresh session for the connection. An existing session
// under the same id is replaced, which doubles as the reconnect reset.
func (r *Registry) Create(connectionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Session{ConnectionID: connectionID}
	r.sessions[connectionID] = s
	return s
}

func (r *Registry) Get(connectionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connectionID]
	return s, ok
}

// Remove drops the session. Removing an absent id is a no-op; disconnect
// races make that a normal occurrence.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connectionID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
