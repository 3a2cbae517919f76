package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuild_Defaults(t *testing.T) {
	cfg := build("secret")

	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.InDelta(t, 0.7, cfg.Moderation.Threshold, 1e-9)
	assert.Equal(t, 50*time.Millisecond, cfg.Presence.CursorInterval)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "postgres", cfg.Storage.FrameStore)
	assert.False(t, cfg.WebSocket.Compression)
}

func TestBuild_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MODERATION_THRESHOLD", "0.55")
	t.Setenv("MODERATION_WORKERS", "8")
	t.Setenv("CURSOR_INTERVAL", "100ms")
	t.Setenv("RECORDING_ANNOTATION_GRACE", "30")
	t.Setenv("WS_COMPRESSION", "yes")
	t.Setenv("RECORDING_FRAME_STORE", "redis")

	cfg := build("secret")

	assert.InDelta(t, 0.55, cfg.Moderation.Threshold, 1e-9)
	assert.Equal(t, 8, cfg.Moderation.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Presence.CursorInterval)
	assert.Equal(t, 30*time.Second, cfg.Recording.AnnotationGrace)
	assert.True(t, cfg.WebSocket.Compression)
	assert.Equal(t, "redis", cfg.Storage.FrameStore)
}

func TestBuild_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MODERATION_THRESHOLD", "high")
	t.Setenv("ROOM_SUBSCRIBER_BUFFER", "many")
	t.Setenv("ROOM_IDLE_TIMEOUT", "soon")

	cfg := build("secret")

	assert.InDelta(t, 0.7, cfg.Moderation.Threshold, 1e-9)
	assert.Equal(t, 256, cfg.Room.SubscriberBuffer)
	assert.Equal(t, 5*time.Minute, cfg.Room.IdleTimeout)
}
