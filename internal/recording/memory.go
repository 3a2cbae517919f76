package recording

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps recordings in process memory. It implements every store interface of
// this package and backs tests and single-node development runs.
type MemoryStore struct {
	mu          sync.RWMutex
	frames      map[string][]Frame
	sessions    map[string]Session
	annotations map[string][]Annotation
	jobs        map[string]ExportJob
	artifacts   map[string][]byte

	// FailAppend, when set, is returned by AppendFrames.
	FailAppend error
	// FailSave, when set, is returned by SaveSession.
	FailSave error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		frames:      make(map[string][]Frame),
		sessions:    make(map[string]Session),
		annotations: make(map[string][]Annotation),
		jobs:        make(map[string]ExportJob),
		artifacts:   make(map[string][]byte),
	}
}

// SetFailAppend changes the injected AppendFrames failure.
func (m *MemoryStore) SetFailAppend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailAppend = err
}

// SetFailSave changes the injected SaveSession failure.
func (m *MemoryStore) SetFailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailSave = err
}

func (m *MemoryStore) AppendFrames(_ context.Context, sessionID string, frames []Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		return m.FailAppend
	}
	m.frames[sessionID] = append(m.frames[sessionID], frames...)
	return nil
}

func (m *MemoryStore) Frames(_ context.Context, sessionID string) ([]Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]Frame(nil), m.frames[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSave != nil {
		return m.FailSave
	}

	cp := *s
	cp.MissingRanges = append([]Range(nil), s.MissingRanges...)
	m.sessions[s.ID] = cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) SearchSessions(_ context.Context, q Query) ([]Session, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text := strings.ToLower(q.Text)
	var matched []Session
	for _, s := range m.sessions {
		if q.WhiteboardID != "" && s.WhiteboardID != q.WhiteboardID {
			continue
		}
		if q.Status != "" && s.Status != q.Status {
			continue
		}
		if text != "" && !m.matchesTextLocked(s, text) {
			continue
		}
		matched = append(matched, s)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Session{}, total, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) matchesTextLocked(s Session, text string) bool {
	if strings.Contains(strings.ToLower(s.Title), text) {
		return true
	}
	for _, a := range m.annotations[s.ID] {
		if strings.Contains(strings.ToLower(a.Text), text) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) AddAnnotation(_ context.Context, a Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.annotations[a.SessionID] = append(m.annotations[a.SessionID], a)
	return nil
}

func (m *MemoryStore) Annotations(_ context.Context, sessionID string) ([]Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Annotation(nil), m.annotations[sessionID]...), nil
}

func (m *MemoryStore) SaveJob(_ context.Context, j *ExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*ExportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (m *MemoryStore) PutArtifact(_ context.Context, key, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.artifacts[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) GetArtifact(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.artifacts[key]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return append([]byte(nil), data...), nil
}
