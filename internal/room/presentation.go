package room

import (
	"context"
	"log"
)

// PresentationState 발표 모드 상태
type PresentationState struct {
	Enabled     bool   `json:"enabled"`
	PresenterID string `json:"presenterId,omitempty"`
	LockEditing bool   `json:"lockEditing"`
}

// locks reports whether the state keeps participantID from editing.
func (p PresentationState) locks(participantID string) bool {
	return p.Enabled && p.LockEditing && participantID != p.PresenterID
}

// Presentation returns the current presentation state.
func (r *Room) Presentation(ctx context.Context) (PresentationState, error) {
	var st PresentationState
	if err := r.do(ctx, func() { st = r.presentation }); err != nil {
		return PresentationState{}, err
	}
	return st, nil
}

// SetPresentation turns presentation mode on or off. Only hosts may call it; any other
// caller gets ErrForbidden and the state is left untouched. Enabling without a presenter
// makes the caller present.
func (r *Room) SetPresentation(ctx context.Context, actor Participant, req PresentationState) (PresentationState, error) {
	if !r.isHost(actor) {
		return PresentationState{}, ErrForbidden
	}

	var (
		st  PresentationState
		err error
	)
	e := r.do(ctx, func() {
		if !req.Enabled {
			r.endPresentation()
			st = r.presentation
			return
		}

		presenter := req.PresenterID
		if presenter == "" {
			presenter = actor.ID
		}
		if !r.connected(presenter) {
			err = ErrPresenterMissing
			return
		}

		if pos, ok := r.tracker.Current(); ok && pos.ParticipantID != presenter {
			r.broadcastCursor(Event{Type: EventCursorHidden, Payload: CursorPayload{ParticipantID: pos.ParticipantID}})
		}
		r.tracker.SetPresenter(presenter)
		r.presentation = PresentationState{Enabled: true, PresenterID: presenter, LockEditing: req.LockEditing}
		r.broadcast(Event{Type: EventPresentationChange, From: actor.ID, Payload: r.presentation})
		log.Printf("[Room %s] 🎤 Presentation on: presenter=%s lock=%v", r.id, presenter, req.LockEditing)
		st = r.presentation
	})
	if e != nil {
		return PresentationState{}, e
	}
	return st, err
}

// endPresentation clears the broadcast cursor and turns presentation mode off. Actor only.
func (r *Room) endPresentation() {
	if !r.presentation.Enabled {
		return
	}
	presenter := r.presentation.PresenterID
	r.tracker.Clear()
	r.presentation = PresentationState{}

	r.broadcastCursor(Event{Type: EventCursorHidden, Payload: CursorPayload{ParticipantID: presenter}})
	r.broadcast(Event{Type: EventPresentationChange, Payload: r.presentation})
	log.Printf("[Room %s] Presentation off", r.id)
}
