package board

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Operation 변경 종류
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

var (
	ErrConflict        = errors.New("version conflict")
	ErrInvalidIntent   = errors.New("invalid mutation intent")
	ErrElementNotFound = errors.New("element not found")
	ErrElementRejected = errors.New("element was rejected by moderation")
)

// Intent is a participant's request to change one element, stamped with the version the
// participant last saw.
type Intent struct {
	ElementID       string         `json:"elementId"`
	ExpectedVersion uint64         `json:"expectedVersion"`
	Op              Operation      `json:"operation"`
	Element         *Element       `json:"element,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
}

// AppliedMutation is an accepted intent. Seq orders it among all mutations of the whiteboard.
type AppliedMutation struct {
	Seq            uint64    `json:"seq"`
	WhiteboardID   string    `json:"whiteboardId"`
	ElementID      string    `json:"elementId"`
	Version        uint64    `json:"version"`
	Op             Operation `json:"operation"`
	State          *Element  `json:"state,omitempty"`
	Actor          string    `json:"actor"`
	ContentChanged bool      `json:"contentChanged"`
	AppliedAt      time.Time `json:"appliedAt"`
}

// ConflictError carries the server's current view of an element so the client can rebase.
type ConflictError struct {
	ElementID       string
	ExpectedVersion uint64
	CurrentVersion  uint64
	Current         *Element
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on element %s: expected %d, current %d",
		e.ElementID, e.ExpectedVersion, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Store is the authoritative element map of one whiteboard.
// It is not safe for concurrent use; the owning room serializes access.
type Store struct {
	whiteboardID string
	elements     map[string]*Element
	// last version of deleted ids, so a re-created id keeps counting upward
	tombstones map[string]uint64
	seq        uint64
}

// NewStore creates an empty store.
func NewStore(whiteboardID string) *Store {
	return &Store{
		whiteboardID: whiteboardID,
		elements:     make(map[string]*Element),
		tombstones:   make(map[string]uint64),
	}
}

// Load replaces the store content with a persisted snapshot.
func (s *Store) Load(elements []Element, seq uint64) {
	s.elements = make(map[string]*Element, len(elements))
	s.tombstones = make(map[string]uint64)
	for i := range elements {
		e := elements[i]
		s.elements[e.ID] = e.Clone()
	}
	s.seq = seq
}

// WhiteboardID returns the owning whiteboard.
func (s *Store) WhiteboardID() string { return s.whiteboardID }

// Seq returns the sequence number of the last accepted mutation.
func (s *Store) Seq() uint64 { return s.seq }

// Len returns the number of live elements.
func (s *Store) Len() int { return len(s.elements) }

// Get returns a copy of the element.
func (s *Store) Get(id string) (*Element, bool) {
	e, ok := s.elements[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Snapshot returns copies of all live elements ordered by id.
func (s *Store) Snapshot() []Element {
	out := make([]Element, 0, len(s.elements))
	for _, e := range s.elements {
		out = append(out, *e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply validates the intent against the current state and applies it.
// A stale ExpectedVersion yields a *ConflictError.
func (s *Store) Apply(in Intent, actor string, now time.Time) (AppliedMutation, error) {
	switch in.Op {
	case OpCreate:
		return s.create(in, actor, now)
	case OpUpdate:
		return s.update(in, actor, now)
	case OpDelete:
		return s.delete(in, actor, now)
	default:
		return AppliedMutation{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidIntent, in.Op)
	}
}

func (s *Store) create(in Intent, actor string, now time.Time) (AppliedMutation, error) {
	if in.Element == nil {
		return AppliedMutation{}, fmt.Errorf("%w: create requires element", ErrInvalidIntent)
	}
	if in.ExpectedVersion != 0 {
		return AppliedMutation{}, fmt.Errorf("%w: create requires expectedVersion 0", ErrInvalidIntent)
	}

	id := in.ElementID
	if id == "" {
		id = in.Element.ID
	}
	if id == "" {
		id = uuid.New().String()
	}
	if cur, ok := s.elements[id]; ok {
		return AppliedMutation{}, &ConflictError{
			ElementID:      id,
			CurrentVersion: cur.Version,
			Current:        cur.Clone(),
		}
	}

	e := in.Element.Clone()
	e.ID = id
	e.ModerationStatus = StatusPending
	e.CreatedBy = actor
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Version = s.tombstones[id] + 1
	if e.Style.Opacity == 0 {
		e.Style.Opacity = 1
	}
	if err := e.Validate(); err != nil {
		return AppliedMutation{}, err
	}

	delete(s.tombstones, id)
	s.elements[id] = e
	return s.accept(OpCreate, e, actor, e.HasContent(), now), nil
}

func (s *Store) update(in Intent, actor string, now time.Time) (AppliedMutation, error) {
	cur, err := s.expect(in)
	if err != nil {
		return AppliedMutation{}, err
	}
	if cur.ModerationStatus == StatusRejected {
		return AppliedMutation{}, ErrElementRejected
	}

	patch, err := DecodePatch(in.Fields)
	if err != nil {
		return AppliedMutation{}, err
	}

	next := cur.Clone()
	changed := patch.ApplyTo(next)
	if err := next.Validate(); err != nil {
		return AppliedMutation{}, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	s.elements[next.ID] = next
	return s.accept(OpUpdate, next, actor, changed, now), nil
}

func (s *Store) delete(in Intent, actor string, now time.Time) (AppliedMutation, error) {
	cur, err := s.expect(in)
	if err != nil {
		return AppliedMutation{}, err
	}

	version := cur.Version + 1
	delete(s.elements, cur.ID)
	s.tombstones[cur.ID] = version

	s.seq++
	return AppliedMutation{
		Seq:          s.seq,
		WhiteboardID: s.whiteboardID,
		ElementID:    cur.ID,
		Version:      version,
		Op:           OpDelete,
		Actor:        actor,
		AppliedAt:    now,
	}, nil
}

// expect resolves the target of an update/delete and checks its version.
func (s *Store) expect(in Intent) (*Element, error) {
	if in.ElementID == "" {
		return nil, fmt.Errorf("%w: missing elementId", ErrInvalidIntent)
	}
	cur, ok := s.elements[in.ElementID]
	if !ok {
		return nil, &ConflictError{
			ElementID:       in.ElementID,
			ExpectedVersion: in.ExpectedVersion,
			CurrentVersion:  s.tombstones[in.ElementID],
		}
	}
	if cur.Version != in.ExpectedVersion {
		return nil, &ConflictError{
			ElementID:       in.ElementID,
			ExpectedVersion: in.ExpectedVersion,
			CurrentVersion:  cur.Version,
			Current:         cur.Clone(),
		}
	}
	return cur, nil
}

func (s *Store) accept(op Operation, e *Element, actor string, contentChanged bool, now time.Time) AppliedMutation {
	s.seq++
	return AppliedMutation{
		Seq:            s.seq,
		WhiteboardID:   s.whiteboardID,
		ElementID:      e.ID,
		Version:        e.Version,
		Op:             op,
		State:          e.Clone(),
		Actor:          actor,
		ContentChanged: contentChanged,
		AppliedAt:      now,
	}
}

// SetStatus records a moderation outcome. It does not bump the element version.
func (s *Store) SetStatus(id string, status ModerationStatus, now time.Time) (*Element, error) {
	e, ok := s.elements[id]
	if !ok {
		return nil, ErrElementNotFound
	}
	e.ModerationStatus = status
	e.UpdatedAt = now
	return e.Clone(), nil
}
