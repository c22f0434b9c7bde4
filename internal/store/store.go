package store

import (
	"sync"

	"github.com/giuliastro/opencode-remote/internal/model"
)

// Detail is the selected session's synchronized view: filtered transcript,
// todo list, and pending diff.
type Detail struct {
	SessionID string
	Messages  []model.MessageEnvelope
	Todos     []model.TodoItem
	Files     []model.DiffFile
	Diff      model.DiffSummary
}

// Snapshot is the canonical state all readers observe. Commits replace the
// whole value; slices inside a snapshot are never mutated after commit.
type Snapshot struct {
	Config           model.ServerConfig
	Sessions         []model.Session
	SelectedID       string
	Detail           Detail
	LastError        string
	RefreshingList   bool
	RefreshingDetail bool
}

// SelectedSession returns the selected session from the list, if present.
func (s Snapshot) SelectedSession() (model.Session, bool) {
	if s.SelectedID == "" {
		return model.Session{}, false
	}
	for _, session := range s.Sessions {
		if session.ID == s.SelectedID {
			return session, true
		}
	}
	return model.Session{}, false
}

// Store holds the current snapshot and fans committed snapshots out to
// observers. Writers funnel through the sync coordinator; the store itself
// only guarantees that every commit is an atomic replacement.
type Store struct {
	mu       sync.Mutex
	snapshot Snapshot
	nextSub  int
	subs     map[int]func(Snapshot)
}

func New(cfg model.ServerConfig) *Store {
	return &Store{
		snapshot: Snapshot{Config: cfg},
		subs:     map[int]func(Snapshot){},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers an observer called after every commit with the new
// snapshot. The returned func removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SetSessions commits a freshly joined and sorted session list.
func (s *Store) SetSessions(sessions []model.Session) {
	s.commit(func(snap *Snapshot) bool {
		snap.Sessions = sessions
		return true
	})
}

// Select swaps the selected session. Changing the selection drops the old
// detail immediately so a stale transcript is never shown for the new one.
func (s *Store) Select(sessionID string) {
	s.commit(func(snap *Snapshot) bool {
		if snap.SelectedID == sessionID {
			return false
		}
		snap.SelectedID = sessionID
		snap.Detail = Detail{SessionID: sessionID}
		return true
	})
}

// SetDetail commits a detail refresh result. A result fetched for a session
// that is no longer selected is discarded and false returned.
func (s *Store) SetDetail(detail Detail) bool {
	return s.commit(func(snap *Snapshot) bool {
		if detail.SessionID == "" || detail.SessionID != snap.SelectedID {
			return false
		}
		snap.Detail = detail
		return true
	})
}

func (s *Store) SetRefreshingList(refreshing bool) {
	s.commit(func(snap *Snapshot) bool {
		if snap.RefreshingList == refreshing {
			return false
		}
		snap.RefreshingList = refreshing
		return true
	})
}

func (s *Store) SetRefreshingDetail(refreshing bool) {
	s.commit(func(snap *Snapshot) bool {
		if snap.RefreshingDetail == refreshing {
			return false
		}
		snap.RefreshingDetail = refreshing
		return true
	})
}

// SetLastError replaces the single error slot with the newest message.
func (s *Store) SetLastError(message string) {
	s.commit(func(snap *Snapshot) bool {
		snap.LastError = message
		return true
	})
}

// ClearLastError empties the slot; consumers call it once the error has
// been shown. There is no auto-expiry.
func (s *Store) ClearLastError() {
	s.commit(func(snap *Snapshot) bool {
		if snap.LastError == "" {
			return false
		}
		snap.LastError = ""
		return true
	})
}

// commit applies mutate to a copy of the current snapshot and swaps it in.
// Observers run outside the lock with the committed value.
func (s *Store) commit(mutate func(*Snapshot) bool) bool {
	s.mu.Lock()
	next := s.snapshot
	if !mutate(&next) {
		s.mu.Unlock()
		return false
	}
	s.snapshot = next
	observers := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		observers = append(observers, fn)
	}
	s.mu.Unlock()
	for _, fn := range observers {
		fn(next)
	}
	return true
}
