package room

import (
	"context"
	"errors"
	"log"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"whiteboard-backend/internal/moderation"
	"whiteboard-backend/internal/recording"
)

// =============================================================================
// Hub - 화이트보드별 Room 레지스트리
// =============================================================================

// Hub owns the rooms of one server process. Rooms are loaded on first use and removed
// after they have been empty for the idle timeout.
type Hub struct {
	cfg   Config
	deps  Deps
	chain Chain
	clock clock.Clock
	rooms *xsync.MapOf[string, *Room]
	loads singleflight.Group
}

// NewHub creates a hub. The middleware chain is composed once and shared by all rooms.
func NewHub(cfg Config, deps Deps, chain Chain) *Hub {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Hub{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		chain: chain,
		clock: deps.Clock,
		rooms: xsync.NewMapOf[string, *Room](),
	}
}

// Chain returns the middleware chain rooms run accepted mutations through.
func (h *Hub) Chain() Chain { return h.chain }

// Lookup returns a loaded room without loading it.
func (h *Hub) Lookup(whiteboardID string) (*Room, bool) {
	return h.rooms.Load(whiteboardID)
}

// Room returns the room of a whiteboard, loading its persisted state on first use.
func (h *Hub) Room(ctx context.Context, whiteboardID string) (*Room, error) {
	if r, ok := h.rooms.Load(whiteboardID); ok {
		return r, nil
	}
	if h.deps.Loader == nil {
		return nil, errors.New("room loader not configured")
	}

	v, err, _ := h.loads.Do(whiteboardID, func() (any, error) {
		if r, ok := h.rooms.Load(whiteboardID); ok {
			return r, nil
		}
		wb, elements, err := h.deps.Loader.LoadSnapshot(ctx, whiteboardID)
		if err != nil {
			return nil, err
		}
		r := New(wb, elements, h.cfg, h.deps, h.chain)
		h.rooms.Store(whiteboardID, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Join loads the room and subscribes the participant. A room closed by the idle
// reaper between lookup and subscribe is reloaded once.
func (h *Hub) Join(ctx context.Context, whiteboardID string, p Participant) (*Room, *Subscription, error) {
	for attempt := 0; attempt < 2; attempt++ {
		r, err := h.Room(ctx, whiteboardID)
		if err != nil {
			return nil, nil, err
		}
		sub, err := r.Subscribe(ctx, p)
		if errors.Is(err, ErrRoomClosed) {
			h.rooms.Compute(whiteboardID, func(old *Room, loaded bool) (*Room, bool) {
				return old, !loaded || old == r
			})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return r, sub, nil
	}
	return nil, nil, ErrRoomClosed
}

// ApplyDecision routes an automatic decision to the room that owns the element. A
// decision for an unloaded room is dropped; the element is re-queued when the room loads.
func (h *Hub) ApplyDecision(ctx context.Context, d moderation.Decision) error {
	r, ok := h.rooms.Load(d.WhiteboardID)
	if !ok {
		return moderation.ErrUnknownElement
	}
	return r.ApplyDecision(ctx, d)
}

// RecordingStatusChanged broadcasts a recorder status change to the whiteboard's room.
// Rooms that are not loaded have nobody to tell.
func (h *Hub) RecordingStatusChanged(s recording.Session) {
	r, ok := h.rooms.Load(s.WhiteboardID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SaveTimeout)
	defer cancel()
	if err := r.RecordingChanged(ctx, s); err != nil {
		log.Printf("[Hub] recording %s status not delivered: %v", s.ID, err)
	}
}

// Len returns the number of loaded rooms.
func (h *Hub) Len() int { return h.rooms.Size() }

// Run removes idle rooms until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap(ctx)
		}
	}
}

func (h *Hub) reap(ctx context.Context) {
	h.rooms.Range(func(id string, r *Room) bool {
		if !r.idle(ctx) {
			return true
		}
		removed := false
		h.rooms.Compute(id, func(old *Room, loaded bool) (*Room, bool) {
			if !loaded || old != r {
				return old, !loaded
			}
			removed = true
			return nil, true
		})
		if removed {
			cctx, cancel := context.WithTimeout(ctx, h.cfg.SaveTimeout)
			if err := r.Close(cctx); err != nil {
				log.Printf("[Hub] ⚠️ Idle room %s closed with unsaved state: %v", id, err)
			}
			cancel()
			log.Printf("[Hub] Removed idle room: %s, remaining: %d", id, h.rooms.Size())
		}
		return true
	})
}

// Shutdown saves and closes every room.
func (h *Hub) Shutdown(ctx context.Context) {
	h.rooms.Range(func(id string, r *Room) bool {
		if err := r.Close(ctx); err != nil {
			log.Printf("[Hub] ⚠️ Room %s closed with unsaved state: %v", id, err)
		}
		h.rooms.Delete(id)
		return true
	})
	log.Printf("[Hub] All rooms closed")
}
