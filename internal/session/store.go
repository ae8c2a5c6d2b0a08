package session

import (
	"sort"
	"sync"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

// PendingKey identifies an in-flight translation request.
type PendingKey struct {
	TabID   string
	VideoID string
}

// ChangeKind describes what happened to a session.
type ChangeKind string

const (
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change is passed to the store observer after every mutation.
type Change struct {
	Kind  ChangeKind
	State protocol.TabState
}

// Store maps tab IDs to sessions and tracks pending requests. Sessions are
// inserted on first contact and deleted only by Remove.
//
// Every tab carries a generation. It moves forward on Begin, CancelLoading,
// Reset and Remove; a request applies its outcome only while the generation
// it captured in Begin is still current. Generations are unique across the
// store so a recreated tab never matches a stale request.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*TabSession
	pending     map[PendingKey]uint64
	generations map[string]uint64
	seq         uint64

	observerMu sync.RWMutex
	observer   func(Change)
}

func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*TabSession),
		pending:     make(map[PendingKey]uint64),
		generations: make(map[string]uint64),
	}
}

// SetObserver installs fn to be called after each mutation, outside the
// store lock.
func (s *Store) SetObserver(fn func(Change)) {
	s.observerMu.Lock()
	s.observer = fn
	s.observerMu.Unlock()
}

func (s *Store) notify(kind ChangeKind, state protocol.TabState) {
	s.observerMu.RLock()
	fn := s.observer
	s.observerMu.RUnlock()
	if fn != nil {
		fn(Change{Kind: kind, State: state})
	}
}

func (s *Store) next() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) getOrCreateLocked(tabID string) *TabSession {
	sess, ok := s.sessions[tabID]
	if !ok {
		sess = &TabSession{TabID: tabID}
		s.sessions[tabID] = sess
	}
	return sess
}

// GetOrCreate returns the session for tabID, creating an idle one on first
// contact.
func (s *Store) GetOrCreate(tabID string) protocol.TabState {
	s.mu.Lock()
	_, existed := s.sessions[tabID]
	state := s.getOrCreateLocked(tabID).snapshot()
	s.mu.Unlock()
	if !existed {
		s.notify(ChangeUpdated, state)
	}
	return state
}

// Snapshot returns a copy of the session for tabID.
func (s *Store) Snapshot(tabID string) (protocol.TabState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[tabID]
	if !ok {
		return protocol.TabState{}, false
	}
	return sess.snapshot(), true
}

// List returns all sessions ordered by tab ID.
func (s *Store) List() []protocol.TabState {
	s.mu.RLock()
	out := make([]protocol.TabState, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Count returns the number of known tabs.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Update applies fn to the session for tabID, creating it if needed.
func (s *Store) Update(tabID string, fn func(*TabSession)) protocol.TabState {
	s.mu.Lock()
	sess := s.getOrCreateLocked(tabID)
	fn(sess)
	sess.normalize()
	state := sess.snapshot()
	s.mu.Unlock()
	s.notify(ChangeUpdated, state)
	return state
}

// UpdateIf applies fn only while gen is the tab's current generation. It
// reports whether fn ran.
func (s *Store) UpdateIf(tabID string, gen uint64, fn func(*TabSession)) (protocol.TabState, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[tabID]
	if !ok || s.generations[tabID] != gen {
		var state protocol.TabState
		if ok {
			state = sess.snapshot()
		}
		s.mu.Unlock()
		return state, false
	}
	fn(sess)
	sess.normalize()
	state := sess.snapshot()
	s.mu.Unlock()
	s.notify(ChangeUpdated, state)
	return state, true
}

// Apply merges a state patch into the session. A reset patch also drops the
// tab's pending keys and invalidates in-flight requests.
func (s *Store) Apply(tabID string, patch protocol.StatePatch) protocol.TabState {
	s.mu.Lock()
	sess := s.getOrCreateLocked(tabID)
	if patch.Reset {
		s.dropTabLocked(tabID)
		s.generations[tabID] = s.next()
	}
	sess.apply(patch)
	sess.normalize()
	state := sess.snapshot()
	s.mu.Unlock()
	s.notify(ChangeUpdated, state)
	return state
}

// Reset returns the tab to a fresh idle session.
func (s *Store) Reset(tabID string) protocol.TabState {
	return s.Apply(tabID, protocol.StatePatch{Reset: true})
}

// Remove deletes the session, its pending keys and its generation.
func (s *Store) Remove(tabID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[tabID]
	var state protocol.TabState
	if ok {
		state = sess.snapshot()
	}
	delete(s.sessions, tabID)
	delete(s.generations, tabID)
	s.dropTabLocked(tabID)
	s.mu.Unlock()
	if ok {
		s.notify(ChangeRemoved, state)
	}
	return ok
}

func (s *Store) dropTabLocked(tabID string) {
	for key := range s.pending {
		if key.TabID == tabID {
			delete(s.pending, key)
		}
	}
}

// TryRegister inserts key into the pending set. It returns false, without
// modifying anything, when the key is already pending. The returned token
// must be handed back to Release.
func (s *Store) TryRegister(key PendingKey) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[key]; busy {
		return 0, false
	}
	token := s.next()
	s.pending[key] = token
	s.getOrCreateLocked(key.TabID)
	return token, true
}

// Release removes key if it is still the entry created with token. It
// reports whether an entry was removed.
func (s *Store) Release(key PendingKey, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pending[key]; ok && cur == token {
		delete(s.pending, key)
		return true
	}
	return false
}

// Drop removes key regardless of which request created it.
func (s *Store) Drop(key PendingKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	delete(s.pending, key)
	return ok
}

// IsPending reports whether key is in flight.
func (s *Store) IsPending(key PendingKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[key]
	return ok
}

// PendingCount returns the number of in-flight keys.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Begin starts a new generation for tabID and marks the session as loading
// videoID. Prior subtitles, task and error are cleared.
func (s *Store) Begin(tabID, videoID string) uint64 {
	s.mu.Lock()
	sess := s.getOrCreateLocked(tabID)
	gen := s.next()
	s.generations[tabID] = gen
	sess.IsLoading = true
	sess.IsActive = false
	sess.VideoID = StringPtr(videoID)
	sess.TaskID = nil
	sess.Error = nil
	sess.normalize()
	state := sess.snapshot()
	s.mu.Unlock()
	s.notify(ChangeUpdated, state)
	return gen
}

// Generation returns the tab's current generation, or 0 if it has none.
func (s *Store) Generation(tabID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[tabID]
}

// CancelLoading stops the tab's loading state. Any cancel while loading
// resets the session, even one naming a video other than the one loading;
// the named video's pending key is dropped too. It drops the pending key,
// invalidates the in-flight request and clears the video. It returns the
// video that was loading and whether the session was loading at all.
func (s *Store) CancelLoading(tabID, videoID string) (string, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[tabID]
	if !ok || !sess.IsLoading {
		s.mu.Unlock()
		return "", false
	}
	current := ""
	if sess.VideoID != nil {
		current = *sess.VideoID
	}
	if videoID != "" && videoID != current {
		delete(s.pending, PendingKey{TabID: tabID, VideoID: videoID})
	}
	delete(s.pending, PendingKey{TabID: tabID, VideoID: current})
	s.generations[tabID] = s.next()
	sess.IsLoading = false
	sess.VideoID = nil
	sess.normalize()
	state := sess.snapshot()
	s.mu.Unlock()
	s.notify(ChangeUpdated, state)
	return current, true
}
