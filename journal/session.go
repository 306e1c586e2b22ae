package journal

import (
	"fmt"
	"sync"

	"github.com/rustyeddy/rolling5/logging"
	"github.com/shopspring/decimal"
)

// RestrictBelow is the capital under which high-risk modules are refused.
var RestrictBelow = decimal.NewFromInt(10)

var restrictedModules = []string{"scalpel", "defcon6"}

// SessionState is the single session document.
type SessionState struct {
	ActiveModule *string         `json:"active_module"`
	Capital      decimal.Decimal `json:"capital"`

	// Restricted is derived from Capital and never written.
	Restricted []string `json:"-"`
}

func (s SessionState) IsRestricted(module string) bool {
	for _, m := range s.Restricted {
		if m == module {
			return true
		}
	}
	return false
}

func (s *SessionState) restrict() {
	s.Restricted = nil
	if s.Capital.LessThan(RestrictBelow) {
		s.Restricted = append([]string(nil), restrictedModules...)
	}
}

// SessionStore reads and rewrites the session document under one lock.
type SessionStore struct {
	mu       sync.Mutex
	path     string
	defaults SessionState
	log      *logging.Logger
}

func NewSessionStore(path string, capital decimal.Decimal, log *logging.Logger) *SessionStore {
	return &SessionStore{
		path:     path,
		defaults: SessionState{Capital: capital},
		log:      logging.OrNop(log).WithComponent("session"),
	}
}

// Load returns the stored session, or the defaults when the file is missing
// or unreadable.
func (s *SessionStore) Load() (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SessionStore) Save(st SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *SessionStore) SetModule(name string) error {
	return s.update(func(st *SessionState) { st.ActiveModule = &name })
}

func (s *SessionStore) UpdateCapital(c decimal.Decimal) error {
	return s.update(func(st *SessionState) { st.Capital = c })
}

func (s *SessionStore) update(fn func(*SessionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(&st)
	return s.saveLocked(st)
}

func (s *SessionStore) loadLocked() (SessionState, error) {
	st := s.defaults
	b, err := readFile(s.path)
	if err != nil {
		return SessionState{}, err
	}
	if len(b) > 0 {
		var got SessionState
		if err := json.Unmarshal(b, &got); err != nil {
			s.log.Warn("session unreadable, using defaults",
				logging.String("path", s.path),
				logging.Err(fmt.Errorf("%w: %v", ErrCorrupt, err)))
		} else {
			st = got
		}
	}
	st.restrict()
	return st, nil
}

func (s *SessionStore) saveLocked(st SessionState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
