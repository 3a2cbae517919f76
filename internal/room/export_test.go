package room

import "context"

// Reap exposes the idle sweep to tests.
func (h *Hub) Reap(ctx context.Context) { h.reap(ctx) }
