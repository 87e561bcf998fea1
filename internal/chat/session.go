package chat

import (
	"context"
	"sync"
	"time"

	"github.com/sheetql/sheetql/internal/llm"
)

// session is the Conversation State. history excludes the system prompt and
// only changes when a turn ends. lock is a one-slot semaphore so waiting for
// the session can be abandoned when the caller's context ends.
type session struct {
	id        string
	table     string
	owner     string
	createdAt time.Time

	lock chan struct{}

	mu         sync.Mutex
	history    []llm.Message
	lastActive time.Time
}

func newSession(id, table, owner string, now time.Time) *session {
	return &session{
		id:         id,
		table:      table,
		owner:      owner,
		createdAt:  now,
		lastActive: now,
		lock:       make(chan struct{}, 1),
	}
}

func (s *session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) release() {
	<-s.lock
}

func (s *session) snapshotHistory() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

func (s *session) commit(messages []llm.Message, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, messages...)
	s.lastActive = now
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *session) view() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{
		ID:        s.id,
		TableName: s.table,
		Owner:     s.owner,
		Turns:     append([]llm.Message(nil), s.history...),
		CreatedAt: s.createdAt,
		UpdatedAt: s.lastActive,
	}
}

// Session is a read-only copy of a conversation.
type Session struct {
	ID        string        `json:"session_id"`
	TableName string        `json:"table_name"`
	Owner     string        `json:"owner,omitempty"`
	Turns     []llm.Message `json:"turns"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// sessionStore keeps sessions in memory and evicts idle ones when they are
// next looked up.
type sessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, sessions: map[string]*session{}}
}

func (st *sessionStore) get(id string, now time.Time) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, false
	}
	return s, true
}

// holds reports whether s is still the stored session for its id.
func (st *sessionStore) holds(s *session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[s.id] == s
}

// open returns the existing live session for id or stores a new one.
func (st *sessionStore) open(id, table, owner string, now time.Time) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok && !st.expired(s, now) {
		return s, false
	}
	s := newSession(id, table, owner, now)
	st.sessions[id] = s
	return s, true
}

// sweep drops every expired session and reports how many were removed.
func (st *sessionStore) sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

func (st *sessionStore) expired(s *session, now time.Time) bool {
	if st.ttl <= 0 {
		return false
	}
	// A session with a turn in flight is never evicted.
	if len(s.lock) > 0 {
		return false
	}
	return now.Sub(s.idleSince()) > st.ttl
}
