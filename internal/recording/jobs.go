package recording

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/lithammer/shortuuid/v4"
	"github.com/zeebo/blake3"
)

// RequestExport accepts an asynchronous export and returns its job handle immediately.
func (m *Manager) RequestExport(ctx context.Context, sessionID string, f Format, c Compression) (*ExportJob, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusActive {
		return nil, ErrSessionActive
	}

	now := m.clock.Now()
	job := &ExportJob{
		ID:          shortuuid.New(),
		SessionID:   sessionID,
		Format:      f,
		Compression: c,
		Status:      JobAccepted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.stores.Jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save export job: %w", err)
	}

	m.spawnJob(*job)
	return job, nil
}

// RetryExport re-runs a failed job. Frames are never touched.
func (m *Manager) RetryExport(ctx context.Context, jobID string) (*ExportJob, error) {
	job, err := m.stores.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobFailed {
		return job, ErrJobNotRetryable
	}

	job.Status = JobAccepted
	job.Error = ""
	job.UpdatedAt = m.clock.Now()
	if err := m.stores.Jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save export job: %w", err)
	}

	m.spawnJob(*job)
	return job, nil
}

// Job returns the current state of an export job.
func (m *Manager) Job(ctx context.Context, jobID string) (*ExportJob, error) {
	return m.stores.Jobs.GetJob(ctx, jobID)
}

// Artifact returns the bytes of a ready export.
func (m *Manager) Artifact(ctx context.Context, jobID string) ([]byte, *ExportJob, error) {
	job, err := m.stores.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != JobReady {
		return nil, job, ErrJobNotReady
	}
	data, err := m.stores.Artifacts.GetArtifact(ctx, job.ArtifactKey)
	if err != nil {
		return nil, job, err
	}
	return data, job, nil
}

func (m *Manager) spawnJob(job ExportJob) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case m.exportSem <- struct{}{}:
		case <-m.ctx.Done():
			return
		}
		defer func() { <-m.exportSem }()

		m.runJob(m.ctx, job)
	}()
}

func (m *Manager) runJob(ctx context.Context, job ExportJob) {
	job.Status = JobInProgress
	job.Attempts++
	job.UpdatedAt = m.clock.Now()
	if err := m.stores.Jobs.SaveJob(ctx, &job); err != nil {
		log.Printf("[Export %s] save job: %v", job.ID, err)
	}

	data, err := m.Export(ctx, job.SessionID, job.Format, job.Compression)
	if err == nil {
		key := fmt.Sprintf("exports/%s/%s%s", job.SessionID, job.ID, Extension(job.Format, job.Compression))
		if err = m.stores.Artifacts.PutArtifact(ctx, key, ContentType(job.Format, job.Compression), data); err == nil {
			sum := blake3.Sum256(data)
			job.ArtifactKey = key
			job.Size = int64(len(data))
			job.Checksum = hex.EncodeToString(sum[:])
		}
	}

	job.UpdatedAt = m.clock.Now()
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		log.Printf("[Export %s] ❌ session %s failed: %v", job.ID, job.SessionID, err)
	} else {
		job.Status = JobReady
		log.Printf("[Export %s] ✅ session %s ready (%d bytes)", job.ID, job.SessionID, job.Size)
	}
	m.metrics.ExportJob(string(job.Status))

	if err := m.stores.Jobs.SaveJob(context.WithoutCancel(ctx), &job); err != nil {
		log.Printf("[Export %s] save job: %v", job.ID, err)
	}
}
