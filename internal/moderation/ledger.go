package moderation

import (
	"fmt"
	"time"

	"whiteboard-backend/internal/board"
)

type record struct {
	status         board.ModerationStatus
	contentVersion uint64
	lastDecidedAt  time.Time
}

// Ledger tracks moderation state and decision history for the elements of one whiteboard.
// It is owned by the room actor and is not safe for concurrent use.
type Ledger struct {
	records map[string]*record
	history map[string][]Decision
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[string]*record),
		history: make(map[string][]Decision),
	}
}

// Track starts (or restarts) tracking an element whose content at contentVersion awaits a verdict.
func (l *Ledger) Track(elementID string, status board.ModerationStatus, contentVersion uint64) {
	l.records[elementID] = &record{status: status, contentVersion: contentVersion}
}

// Status returns the tracked status of an element.
func (l *Ledger) Status(elementID string) (board.ModerationStatus, bool) {
	rec, ok := l.records[elementID]
	if !ok {
		return "", false
	}
	return rec.status, true
}

// ContentChanged records a content edit. It reports whether the element needs a new
// classification, and returns the resubmission decision when an approved element
// goes back to PENDING.
func (l *Ledger) ContentChanged(whiteboardID, elementID string, contentVersion uint64, at time.Time) (needsReview bool, resubmitted *Decision) {
	rec, ok := l.records[elementID]
	if !ok {
		l.Track(elementID, board.StatusPending, contentVersion)
		return true, nil
	}
	rec.contentVersion = contentVersion

	switch rec.status {
	case board.StatusPending:
		return true, nil
	case board.StatusApproved:
		d := Decision{
			WhiteboardID:   whiteboardID,
			ElementID:      elementID,
			Status:         board.StatusPending,
			Previous:       board.StatusApproved,
			Reason:         "content changed",
			Source:         SourceAuto,
			ContentVersion: contentVersion,
			DecidedAt:      at,
		}
		rec.status = board.StatusPending
		rec.lastDecidedAt = latest(rec.lastDecidedAt, at)
		l.history[elementID] = append(l.history[elementID], d)
		return true, &d
	default:
		// flagged content stays with the moderator, who sees the latest version
		return false, nil
	}
}

// Resolve validates a decision against the tracked state and, if accepted, records it.
// Automatic decisions are discarded as stale when the element has left PENDING, when they
// classified an older content version, or when a newer decision already exists.
func (l *Ledger) Resolve(d Decision) (Decision, error) {
	rec, ok := l.records[d.ElementID]
	if !ok {
		return Decision{}, ErrUnknownElement
	}

	if d.Source == SourceAuto {
		switch {
		case rec.status != board.StatusPending:
			return Decision{}, fmt.Errorf("%w: element is %s", ErrStaleDecision, rec.status)
		case d.ContentVersion != rec.contentVersion:
			return Decision{}, fmt.Errorf("%w: classified v%d, current content v%d",
				ErrStaleDecision, d.ContentVersion, rec.contentVersion)
		case d.DecidedAt.Before(rec.lastDecidedAt):
			return Decision{}, fmt.Errorf("%w: older than last decision", ErrStaleDecision)
		}
	}

	if !CanTransition(rec.status, d.Status, d.Source) {
		return Decision{}, fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, rec.status, d.Status, d.Source)
	}

	d.Previous = rec.status
	if d.ContentVersion == 0 {
		d.ContentVersion = rec.contentVersion
	}
	rec.status = d.Status
	rec.lastDecidedAt = latest(rec.lastDecidedAt, d.DecidedAt)
	l.history[d.ElementID] = append(l.history[d.ElementID], d)
	return d, nil
}

// Forget stops tracking a deleted element. Its history is kept.
func (l *Ledger) Forget(elementID string) {
	delete(l.records, elementID)
}

// History returns a copy of the decisions recorded for an element, oldest first.
func (l *Ledger) History(elementID string) []Decision {
	h := l.history[elementID]
	out := make([]Decision, len(h))
	copy(out, h)
	return out
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
