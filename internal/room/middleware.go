package room

import (
	"whiteboard-backend/internal/board"
	"whiteboard-backend/internal/moderation"
)

// Handler processes an accepted mutation on the room's actor goroutine.
type Handler func(r *Room, mut *board.AppliedMutation)

// Middleware wraps the handler chain.
type Middleware struct {
	Name string
	Wrap func(next Handler) Handler
}

// Chain is an ordered middleware list, composed once at startup and shared by all rooms.
type Chain struct {
	mws []Middleware
}

// NewChain 미들웨어 체인 생성
func NewChain(mws ...Middleware) Chain {
	return Chain{mws: append([]Middleware(nil), mws...)}
}

// DefaultChain returns Metrics → Persist → Record → Moderate.
func DefaultChain() Chain {
	return NewChain(MetricsMiddleware(), PersistMiddleware(), RecordMiddleware(), ModerateMiddleware())
}

// Names lists the middlewares in execution order.
func (c Chain) Names() []string {
	names := make([]string, len(c.mws))
	for i, mw := range c.mws {
		names[i] = mw.Name
	}
	return names
}

// Then composes the chain around the terminal handler.
func (c Chain) Then(terminal Handler) Handler {
	h := terminal
	for i := len(c.mws) - 1; i >= 0; i-- {
		h = c.mws[i].Wrap(h)
	}
	return h
}

// fanOut is the terminal handler: it publishes the mutation to every subscriber.
func fanOut(r *Room, mut *board.AppliedMutation) {
	r.broadcast(Event{Type: EventMutationApplied, From: mut.Actor, Payload: MutationApplied{
		Seq:       mut.Seq,
		ElementID: mut.ElementID,
		Version:   mut.Version,
		Operation: mut.Op,
		State:     mut.State,
		Actor:     mut.Actor,
	}})
}

// MetricsMiddleware counts accepted mutations.
func MetricsMiddleware() Middleware {
	return Middleware{Name: "metrics", Wrap: func(next Handler) Handler {
		return func(r *Room, mut *board.AppliedMutation) {
			r.deps.Metrics.MutationApplied(string(mut.Op))
			next(r, mut)
		}
	}}
}

// PersistMiddleware marks the room dirty for the write-behind snapshot.
func PersistMiddleware() Middleware {
	return Middleware{Name: "persist", Wrap: func(next Handler) Handler {
		return func(r *Room, mut *board.AppliedMutation) {
			r.dirty = true
			next(r, mut)
		}
	}}
}

// RecordMiddleware hands the mutation to the active recording, if any.
func RecordMiddleware() Middleware {
	return Middleware{Name: "record", Wrap: func(next Handler) Handler {
		return func(r *Room, mut *board.AppliedMutation) {
			if r.deps.Recorder != nil {
				r.deps.Recorder.Capture(*mut)
			}
			next(r, mut)
		}
	}}
}

// ModerateMiddleware keeps the ledger in step with the element store and queues
// content for classification.
func ModerateMiddleware() Middleware {
	return Middleware{Name: "moderate", Wrap: func(next Handler) Handler {
		return func(r *Room, mut *board.AppliedMutation) {
			var resubmitted *moderation.Decision

			switch mut.Op {
			case board.OpCreate:
				r.ledger.Track(mut.ElementID, board.StatusPending, mut.Version)
				r.enqueue(mut.State)
			case board.OpUpdate:
				if mut.ContentChanged {
					review, d := r.ledger.ContentChanged(r.id, mut.ElementID, mut.Version, mut.AppliedAt)
					if d != nil {
						if el, err := r.store.SetStatus(mut.ElementID, board.StatusPending, mut.AppliedAt); err == nil {
							mut.State = el
						}
						r.pendingDecisions = append(r.pendingDecisions, *d)
						resubmitted = d
					}
					if review {
						r.enqueue(mut.State)
					}
				}
			case board.OpDelete:
				r.ledger.Forget(mut.ElementID)
				if r.deps.Pipeline != nil && r.deps.Pipeline.Backlog().Remove(r.id, mut.ElementID) {
					r.deps.Metrics.SetBacklog(r.deps.Pipeline.Backlog().Len())
				}
			}

			next(r, mut)

			if resubmitted != nil {
				r.deps.Metrics.ModerationDecision(string(resubmitted.Status), string(resubmitted.Source))
				r.broadcast(statusChanged(*resubmitted))
			}
		}
	}}
}

func contentOf(whiteboardID string, e *board.Element) moderation.Content {
	kind := moderation.KindShape
	switch e.Type {
	case board.ElementText:
		kind = moderation.KindText
	case board.ElementImage:
		kind = moderation.KindImage
	}
	return moderation.Content{
		WhiteboardID:   whiteboardID,
		ElementID:      e.ID,
		ContentVersion: e.Version,
		Kind:           kind,
		Text:           e.Text,
		ImageRef:       e.ImageRef,
	}
}
