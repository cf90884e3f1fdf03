package processor_test

import (
	"testing"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/stretchr/testify/assert"
)

type staticHealth bool

func (h staticHealth) IsHealthy() bool { return bool(h) }

func TestSelector_DecisionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		attempt  int
		explicit domain.ProcessorKind
		healthy  bool
		want     domain.ProcessorKind
	}{
		{"first attempt healthy", 1, "", true, domain.ProcessorRemote},
		{"first attempt unhealthy", 1, "", false, domain.ProcessorLocalPrimary},
		{"first attempt explicit remote unhealthy", 1, domain.ProcessorRemote, false, domain.ProcessorRemote},
		{"first attempt explicit remote healthy", 1, domain.ProcessorRemote, true, domain.ProcessorRemote},
		{"second attempt explicit remote", 2, domain.ProcessorRemote, true, domain.ProcessorLocalPrimary},
		{"second attempt healthy", 2, "", true, domain.ProcessorLocalPrimary},
		{"second attempt unhealthy", 2, "", false, domain.ProcessorLocalPrimary},
		{"third attempt healthy", 3, "", true, domain.ProcessorLocalSecondary},
		{"third attempt unhealthy", 3, "", false, domain.ProcessorLocalPrimary},
		{"fifth attempt healthy", 5, "", true, domain.ProcessorLocalSecondary},
		{"unclaimed job treated as first", 0, "", true, domain.ProcessorRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sel := processor.NewSelector(staticHealth(tt.healthy))
			job := &domain.Job{Attempts: tt.attempt, Metadata: domain.Metadata{ExplicitProcessor: tt.explicit}}
			assert.Equal(t, tt.want, sel.Select(job))
		})
	}
}

func TestSelector_IsPure(t *testing.T) {
	t.Parallel()
	sel := processor.NewSelector(staticHealth(true))
	job := &domain.Job{Attempts: 3}
	first := sel.Select(job)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sel.Select(job))
	}
	assert.Equal(t, 3, job.Attempts)
}
