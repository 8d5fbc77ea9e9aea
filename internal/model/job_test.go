package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobRunning.Terminal())
	for _, s := range []JobStatus{JobCompleted, JobCompletedWithErrors, JobFailed, JobCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobFailed, true},
		{JobQueued, JobCancelled, true},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobCompletedWithErrors, true},
		{JobRunning, JobCancelled, true},
		{JobRunning, JobFailed, false},
		{JobRunning, JobQueued, false},
		{JobRunning, JobRunning, false},
		{JobCompleted, JobRunning, false},
		{JobCancelled, JobCompleted, false},
		{JobFailed, JobRunning, false},
		{JobQueued, JobStatus("paused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCounters_AddAndTotal(t *testing.T) {
	var c Counters
	c.Add(ResultSuccess)
	c.Add(ResultSuccess)
	c.Add(ResultLowConfidence)
	c.Add(ResultNotFound)
	c.Add(ResultFailed)
	c.Add(ResultStatus("garbage"))

	assert.Equal(t, Counters{Success: 2, LowConfidence: 1, NotFound: 1, Failed: 2}, c)
	assert.Equal(t, 6, c.Total())
}

func TestEnrichmentJob_Completed(t *testing.T) {
	j := EnrichmentJob{Counters: map[EnrichmentType]Counters{
		EnrichmentAwardee:       {Success: 2, Failed: 1},
		EnrichmentSolicitation:  {NotFound: 3},
		EnrichmentProgramOffice: {},
	}}
	assert.Equal(t, 6, j.Completed())
}
