package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/gemini"
)

// maxLocalImageBytes caps the bytes sent inline to the vision model.
const maxLocalImageBytes = 20 << 20

// Analyzer is the in-process vision model a LocalAdapter delegates to.
type Analyzer interface {
	Analyze(ctx context.Context, img gemini.Image) (*gemini.Analysis, error)
}

// LocalAdapter runs analysis in-process through an Analyzer. The primary and
// secondary kinds differ only in the analyzer's model and prompt strategy.
type LocalAdapter struct {
	kind     domain.ProcessorKind
	logger   *slog.Logger
	analyzer Analyzer
	fetcher  Fetcher
}

// NewLocalAdapter creates a LocalAdapter registered under kind.
func NewLocalAdapter(kind domain.ProcessorKind, logger *slog.Logger, analyzer Analyzer, fetcher Fetcher) *LocalAdapter {
	return &LocalAdapter{
		kind:     kind,
		logger:   logger.With("component", "local_adapter", "processor", string(kind)),
		analyzer: analyzer,
		fetcher:  fetcher,
	}
}

// Kind implements Adapter.
func (a *LocalAdapter) Kind() domain.ProcessorKind {
	return a.kind
}

// Process implements Adapter. Video-frame jobs are analysed as single frames.
func (a *LocalAdapter) Process(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error) {
	start := time.Now()

	body, err := a.fetcher.Fetch(ctx, artifact)
	if err != nil {
		return nil, a.fail(OpFetch, err)
	}
	data, err := io.ReadAll(io.LimitReader(body, maxLocalImageBytes+1))
	_ = body.Close()
	if err != nil {
		return nil, a.fail(OpFetch, err)
	}
	if len(data) > maxLocalImageBytes {
		return nil, a.fail(OpFetch, fmt.Errorf("artifact exceeds %d bytes", maxLocalImageBytes))
	}

	kind := "image"
	if job.Type == domain.WorkTypeVideoFrameAnalysis {
		kind = "video frame"
	}

	analysis, err := a.analyzer.Analyze(ctx, gemini.Image{
		Data:     data,
		MIMEType: artifact.ContentType,
		Kind:     kind,
	})
	if err != nil {
		return nil, a.fail("analyze", err)
	}

	raw, err := json.Marshal(analysis)
	if err != nil {
		return nil, a.fail("encode", err)
	}

	a.logger.DebugContext(ctx, "local analysis complete",
		"job_id", job.ID.String(),
		"items", len(analysis.Items))

	return &domain.Result{
		Success:    true,
		ItemCount:  len(analysis.Items),
		BoxCount:   analysis.BoxCount(),
		Raw:        raw,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (a *LocalAdapter) fail(op string, err error) error {
	return &AdapterError{Processor: a.kind, Op: op, Err: err}
}
