package moderation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"whiteboard-backend/internal/metrics"
)

// DecisionSink receives automatic decisions. The room that owns the element validates
// and applies them.
type DecisionSink interface {
	ApplyDecision(ctx context.Context, d Decision) error
}

// Config 검수 파이프라인 설정
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Threshold float64
}

// Pipeline classifies content asynchronously. It never blocks the caller: when the
// queue is full or the classifier fails, the element stays PENDING and goes to the backlog.
type Pipeline struct {
	cfg        Config
	classifier Classifier
	backlog    *Backlog
	clock      clock.Clock
	metrics    *metrics.Metrics
	jobs       chan Content
}

// NewPipeline 검수 파이프라인 생성
func NewPipeline(cfg Config, classifier Classifier, backlog *Backlog, clk clock.Clock, m *metrics.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		backlog:    backlog,
		clock:      clk,
		metrics:    m,
		jobs:       make(chan Content, cfg.QueueSize),
	}
}

// Backlog returns the manual review queue.
func (p *Pipeline) Backlog() *Backlog { return p.backlog }

// Threshold returns the score at or above which content is flagged.
func (p *Pipeline) Threshold() float64 { return p.cfg.Threshold }

// Enqueue submits content for classification. It reports false when the content went
// straight to the review backlog instead.
func (p *Pipeline) Enqueue(c Content) bool {
	select {
	case p.jobs <- c:
		return true
	default:
		p.toBacklog(c, "classification queue full")
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, sink DecisionSink) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case c := <-p.jobs:
					p.classify(ctx, sink, c)
				}
			}
		})
	}
	log.Printf("[Moderation] %d workers started (threshold=%.2f, timeout=%s)", p.cfg.Workers, p.cfg.Threshold, p.cfg.Timeout)
	return g.Wait()
}

func (p *Pipeline) classify(ctx context.Context, sink DecisionSink, c Content) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	res, err := p.classifier.Classify(cctx, c)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.ClassifierFailure()
		log.Printf("[Moderation] classify %s/%s failed, queued for review: %v", c.WhiteboardID, c.ElementID, err)
		p.toBacklog(c, err.Error())
		return
	}

	d := Decision{
		WhiteboardID:   c.WhiteboardID,
		ElementID:      c.ElementID,
		Status:         Verdict(res.Score, p.cfg.Threshold),
		Score:          res.Score,
		Reason:         res.Reason,
		Source:         SourceAuto,
		ContentVersion: c.ContentVersion,
		DecidedAt:      p.clock.Now(),
	}

	if err := sink.ApplyDecision(ctx, d); err != nil {
		if errors.Is(err, ErrStaleDecision) || errors.Is(err, ErrUnknownElement) {
			log.Printf("[Moderation] discarded decision for %s/%s: %v", c.WhiteboardID, c.ElementID, err)
			return
		}
		log.Printf("[Moderation] apply decision for %s/%s failed: %v", c.WhiteboardID, c.ElementID, err)
		return
	}

	if p.backlog.Remove(c.WhiteboardID, c.ElementID) {
		p.metrics.SetBacklog(p.backlog.Len())
	}
}

func (p *Pipeline) toBacklog(c Content, reason string) {
	p.backlog.Push(ReviewItem{Content: c, Reason: reason, QueuedAt: p.clock.Now()})
	p.metrics.SetBacklog(p.backlog.Len())
}
