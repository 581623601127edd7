package sessions

import (
	"sync"

	"github.com/google/uuid"

	"github.com/codial-ai/codial-core/internal/codialerr"
)

// Store is the storage port for sessions (spec.md §9 Open Question 3).
// Only an in-memory implementation ships; a durable backend could
// implement the same interface without the Turn Engine or REST layer
// changing.
type Store interface {
	Create(guildID, requesterID string, defaults Config) *Session
	Get(sessionID string) (*Session, bool)
	BindChannel(sessionID, channelID string) (*Session, *codialerr.Error)
	End(sessionID string) (*Session, *codialerr.Error)
	SetProvider(sessionID, provider string, enabled func(string) bool) (*Session, *codialerr.Error)
	SetModel(sessionID, model string) (*Session, *codialerr.Error)
	SetMCP(sessionID string, enabled bool, profile string) (*Session, *codialerr.Error)
	SetSubagent(sessionID string, name string, resolves func(string) bool) (*Session, *codialerr.Error)
	// Lock acquires the per-session mutation/execution lock, returning an
	// unlock func. Used by the Turn Queue/Worker Pool to guarantee a
	// session never executes two turns concurrently (spec.md §5).
	Lock(sessionID string) func()
}

// MemStore is the in-memory Store implementation (component C5).
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewMemStore constructs an empty in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemStore) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Lock acquires the per-session lock. Callers must call the returned func
// to release it.
func (s *MemStore) Lock(sessionID string) func() {
	l := s.lockFor(sessionID)
	l.Lock()
	return l.Unlock
}

// Create inserts a new active session, seeding its Config from defaults
// (spec.md §3: "Defaults are taken from AGENTS.md at session-create time;
// after that the session owns its config"). Idempotency-on-create is
// handled one layer up by the Idempotency Index (spec.md §4.10) — this
// method always creates a fresh record.
func (s *MemStore) Create(guildID, requesterID string, defaults Config) *Session {
	sess := &Session{
		SessionID:   uuid.NewString(),
		GuildID:     guildID,
		RequesterID: requesterID,
		Status:      StatusActive,
		Config:      defaults,
		CreatedAt:   nowFunc(),
	}

	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()

	cp := *sess
	return &cp
}

func (s *MemStore) Get(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

// mutate applies fn to a private copy of the session under the
// per-session lock (serializing concurrent mutations to the same
// session), rejecting writes to ended sessions (spec.md §3 invariant)
// except End itself, which is idempotent. The shared record in the map
// is only ever replaced wholesale under s.mu's write lock, never
// mutated in place while unlocked — so a concurrent Get, which only
// holds s.mu's read lock, always observes a complete, never-torn
// Session value (spec.md §4.1: "reads are consistent with the last
// committed write").
func (s *MemStore) mutate(sessionID string, allowEnded bool, fn func(*Session) *codialerr.Error) (*Session, *codialerr.Error) {
	unlock := s.Lock(sessionID)
	defer unlock()

	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, codialerr.SessionNotFound("", sessionID)
	}

	if sess.Status == StatusEnded && !allowEnded {
		return nil, codialerr.SessionEnded("", sessionID)
	}

	next := *sess
	if err := fn(&next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sessionID] = &next
	s.mu.Unlock()

	cp := next
	return &cp, nil
}

func (s *MemStore) BindChannel(sessionID, channelID string) (*Session, *codialerr.Error) {
	return s.mutate(sessionID, false, func(sess *Session) *codialerr.Error {
		sess.ChannelID = channelID
		return nil
	})
}

func (s *MemStore) End(sessionID string) (*Session, *codialerr.Error) {
	return s.mutate(sessionID, true, func(sess *Session) *codialerr.Error {
		if sess.Status == StatusEnded {
			return nil // idempotent
		}
		sess.Status = StatusEnded
		t := nowFunc()
		sess.EndedAt = &t
		return nil
	})
}

func (s *MemStore) SetProvider(sessionID, provider string, enabled func(string) bool) (*Session, *codialerr.Error) {
	return s.mutate(sessionID, false, func(sess *Session) *codialerr.Error {
		if !enabled(provider) {
			return codialerr.ProviderNotEnabled("", provider)
		}
		sess.Config.Provider = provider
		return nil
	})
}

func (s *MemStore) SetModel(sessionID, model string) (*Session, *codialerr.Error) {
	return s.mutate(sessionID, false, func(sess *Session) *codialerr.Error {
		sess.Config.Model = model
		return nil
	})
}

func (s *MemStore) SetMCP(sessionID string, enabled bool, profile string) (*Session, *codialerr.Error) {
	return s.mutate(sessionID, false, func(sess *Session) *codialerr.Error {
		sess.Config.MCPEnabled = enabled
		sess.Config.MCPProfileName = profile
		return nil
	})
}

func (s *MemStore) SetSubagent(sessionID string, name string, resolves func(string) bool) (*Session, *codialerr.Error) {
	return s.mutate(sessionID, false, func(sess *Session) *codialerr.Error {
		if name != "" && !resolves(name) {
			return codialerr.SubagentNotFound("", name)
		}
		sess.Config.SubagentName = name
		return nil
	})
}

// nowFunc is indirected for deterministic tests.
var nowFunc = timeNow
