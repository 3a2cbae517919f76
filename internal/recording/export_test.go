package recording_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
	"github.com/zeebo/blake3"

	"whiteboard-backend/internal/recording"
)

func stoppedSession(t *testing.T, m *recording.Manager) string {
	t.Helper()
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "export me", nil)
	require.NoError(t, err)
	for i, id := range []string{"e1", "e2", "e3"} {
		m.Capture(mutation("wb", uint64(i+1), id))
	}
	_, err = m.AddAnnotation(ctx, s.ID, "host", "first note")
	require.NoError(t, err)
	_, err = m.Stop(ctx, s.ID)
	require.NoError(t, err)
	return s.ID
}

func TestExport_Deterministic(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{SnapshotEvery: 2})
	id := stoppedSession(t, m)
	ctx := context.Background()

	formats := []recording.Format{recording.FormatJSON, recording.FormatNDJSON, recording.FormatCBOR, recording.FormatMsgpack}
	compressions := []recording.Compression{recording.CompressionNone, recording.CompressionZstd, recording.CompressionLZ4}

	for _, f := range formats {
		for _, c := range compressions {
			first, err := m.Export(ctx, id, f, c)
			require.NoError(t, err, "%s/%s", f, c)
			second, err := m.Export(ctx, id, f, c)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(first, second), "%s/%s output differs between calls", f, c)
		}
	}
}

func TestExport_JSONContent(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	id := stoppedSession(t, m)

	data, err := m.Export(context.Background(), id, recording.FormatJSON, recording.CompressionNone)
	require.NoError(t, err)

	var doc recording.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, id, doc.Session.ID)
	assert.Equal(t, recording.StatusStopped, doc.Session.Status)
	require.Len(t, doc.Frames, 4)
	for i, f := range doc.Frames {
		assert.Equal(t, uint64(i), f.Seq)
	}
	require.Len(t, doc.Annotations, 1)
	assert.Equal(t, "first note", doc.Annotations[0].Text)
}

func TestExport_NDJSONLines(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	id := stoppedSession(t, m)

	data, err := m.Export(context.Background(), id, recording.FormatNDJSON, recording.CompressionNone)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1+4+1)
	assert.Contains(t, lines[0], `"type":"session"`)
	assert.Contains(t, lines[5], `"type":"annotation"`)
}

func TestExport_DecodesAfterCompression(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	id := stoppedSession(t, m)
	ctx := context.Background()

	plain, err := m.Export(ctx, id, recording.FormatJSON, recording.CompressionNone)
	require.NoError(t, err)

	zst, err := m.Export(ctx, id, recording.FormatJSON, recording.CompressionZstd)
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	out, err := dec.DecodeAll(zst, nil)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	lz, err := m.Export(ctx, id, recording.FormatJSON, recording.CompressionLZ4)
	require.NoError(t, err)
	out, err = io.ReadAll(lz4.NewReader(bytes.NewReader(lz)))
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestExport_CBORAndMsgpackDecode(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	id := stoppedSession(t, m)
	ctx := context.Background()

	raw, err := m.Export(ctx, id, recording.FormatCBOR, recording.CompressionNone)
	require.NoError(t, err)
	var doc recording.Document
	require.NoError(t, cbor.Unmarshal(raw, &doc))
	assert.Equal(t, id, doc.Session.ID)
	assert.Len(t, doc.Frames, 4)

	packed, err := m.Export(ctx, id, recording.FormatMsgpack, recording.CompressionNone)
	require.NoError(t, err)
	n, rest, err := msgp.ReadMapHeaderBytes(packed)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	key, _, err := msgp.ReadStringBytes(rest)
	require.NoError(t, err)
	assert.Equal(t, "session", key)
}

func TestExport_ActiveSessionRefused(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	ctx := context.Background()

	s, err := m.Start(ctx, "wb", "host", "", nil)
	require.NoError(t, err)

	_, err = m.Export(ctx, s.ID, recording.FormatJSON, recording.CompressionNone)
	assert.ErrorIs(t, err, recording.ErrSessionActive)

	_, err = m.RequestExport(ctx, s.ID, recording.FormatJSON, recording.CompressionNone)
	assert.ErrorIs(t, err, recording.ErrSessionActive)
}

func TestParseFormat(t *testing.T) {
	f, err := recording.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, recording.FormatJSON, f)

	_, err = recording.ParseFormat("xml")
	assert.ErrorIs(t, err, recording.ErrUnsupportedFormat)

	_, err = recording.ParseCompression("gzip")
	assert.ErrorIs(t, err, recording.ErrUnsupportedFormat)

	assert.Equal(t, ".cbor.zst", recording.Extension(recording.FormatCBOR, recording.CompressionZstd))
	assert.Equal(t, "application/x-ndjson", recording.ContentType(recording.FormatNDJSON, recording.CompressionNone))
}

// flakyArtifacts fails PutArtifact while failing is set.
type flakyArtifacts struct {
	*recording.MemoryStore
	failing atomic.Bool
}

func (f *flakyArtifacts) PutArtifact(ctx context.Context, key, contentType string, data []byte) error {
	if f.failing.Load() {
		return errors.New("bucket unavailable")
	}
	return f.MemoryStore.PutArtifact(ctx, key, contentType, data)
}

func waitJob(t *testing.T, m *recording.Manager, id string, want recording.JobStatus) *recording.ExportJob {
	t.Helper()
	var job *recording.ExportJob
	require.Eventually(t, func() bool {
		j, err := m.Job(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestExportJob_ReadyAndArtifact(t *testing.T) {
	m, _, _ := newManager(t, recording.Config{})
	id := stoppedSession(t, m)
	ctx := context.Background()

	job, err := m.RequestExport(ctx, id, recording.FormatCBOR, recording.CompressionZstd)
	require.NoError(t, err)
	assert.Equal(t, recording.JobAccepted, job.Status)
	assert.NotEmpty(t, job.ID)

	done := waitJob(t, m, job.ID, recording.JobReady)
	assert.Equal(t, 1, done.Attempts)
	assert.True(t, strings.HasSuffix(done.ArtifactKey, ".cbor.zst"))

	data, _, err := m.Artifact(ctx, job.ID)
	require.NoError(t, err)
	direct, err := m.Export(ctx, id, recording.FormatCBOR, recording.CompressionZstd)
	require.NoError(t, err)
	assert.Equal(t, direct, data)

	sum := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), done.Checksum)
	assert.EqualValues(t, len(data), done.Size)

	_, err = m.RetryExport(ctx, job.ID)
	assert.ErrorIs(t, err, recording.ErrJobNotRetryable)
}

func TestExportJob_FailedThenRetried(t *testing.T) {
	store := recording.NewMemoryStore()
	artifacts := &flakyArtifacts{MemoryStore: store}
	artifacts.failing.Store(true)

	m := recording.NewManager(recording.Config{}, recording.Stores{
		Frames: store, Sessions: store, Jobs: store, Artifacts: artifacts,
	}, nil, nil)
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	id := stoppedSession(t, m)
	ctx := context.Background()

	job, err := m.RequestExport(ctx, id, recording.FormatJSON, recording.CompressionNone)
	require.NoError(t, err)
	failed := waitJob(t, m, job.ID, recording.JobFailed)
	assert.Contains(t, failed.Error, "bucket unavailable")

	_, _, err = m.Artifact(ctx, job.ID)
	assert.ErrorIs(t, err, recording.ErrJobNotReady)

	artifacts.failing.Store(false)
	_, err = m.RetryExport(ctx, job.ID)
	require.NoError(t, err)

	ready := waitJob(t, m, job.ID, recording.JobReady)
	assert.Equal(t, 2, ready.Attempts)
	assert.Empty(t, ready.Error)

	_, err = m.Job(ctx, "unknown")
	assert.ErrorIs(t, err, recording.ErrJobNotFound)
}
