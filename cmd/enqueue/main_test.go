package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validArgs() []string {
	return []string{
		"-url", "https://media.example/a.jpg",
		"-size", "812345",
		"-project", "p1", "-user", "u1", "-org", "o1",
	}
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "defaults", args: validArgs()},
		{name: "video with processor", args: append(validArgs(), "-type", "video_frame_analysis", "-processor", "remote")},
		{name: "missing url", args: []string{"-project", "p1", "-user", "u1", "-org", "o1"}, wantErr: true},
		{name: "bad id", args: append(validArgs(), "-id", "not-a-uuid"), wantErr: true},
		{name: "unknown type", args: append(validArgs(), "-type", "audio"), wantErr: true},
		{name: "unknown processor", args: append(validArgs(), "-processor", "gpu"), wantErr: true},
		{name: "missing org", args: []string{"-url", "https://media.example/a.jpg", "-project", "p1", "-user", "u1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseOptions(tt.args, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOptionsRequest(t *testing.T) {
	t.Parallel()
	opts, err := parseOptions(append(validArgs(),
		"-id", "6f1c3a52-9a57-4a4f-9f1e-6a2b1b7f5a10",
		"-processor", "local_primary"), io.Discard)
	require.NoError(t, err)

	artifact, req := opts.request()
	assert.Equal(t, "6f1c3a52-9a57-4a4f-9f1e-6a2b1b7f5a10", artifact.ID.String())
	assert.Equal(t, artifact.ID, req.SubjectID)
	assert.Equal(t, int64(812345), req.SizeHint)
	assert.Equal(t, domain.WorkTypeImageAnalysis, req.Type)
	assert.Equal(t, domain.ProcessorLocalPrimary, req.ExplicitProcessor)
	assert.Equal(t, "o1", req.Tenant.OrgID)
	assert.Equal(t, "cli", req.Source)
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	opts, err := parseOptions(validArgs(), io.Discard)
	require.NoError(t, err)

	jobs := mocks.NewJobStore()
	artifacts := mocks.NewArtifactStore()
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, submit(context.Background(), opts, jobs, artifacts, 5, logger, &out))

	all := jobs.All()
	require.Len(t, all, 1)
	job := all[0]
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, 50, job.Priority)
	assert.Contains(t, out.String(), job.ID.String())

	artifact, err := artifacts.Get(context.Background(), job.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, "https://media.example/a.jpg", artifact.SourceURL)
	assert.Equal(t, job.ID, artifact.AnalysisJobID)
}
