package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sharp-job-service/internal/entity"
)

func TestCanTransition(t *testing.T) {
	all := []entity.JobStatus{
		entity.StatusQueued, entity.StatusProcessing, entity.StatusComplete, entity.StatusError,
	}
	allowed := map[[2]entity.JobStatus]bool{
		{entity.StatusQueued, entity.StatusProcessing}:   true,
		{entity.StatusProcessing, entity.StatusComplete}: true,
		{entity.StatusProcessing, entity.StatusError}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			got := entity.CanTransition(from, to)
			assert.Equal(t, allowed[[2]entity.JobStatus{from, to}], got, "%s -> %s", from, to)
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, entity.StatusQueued.Terminal())
	assert.False(t, entity.StatusProcessing.Terminal())
	assert.True(t, entity.StatusComplete.Terminal())
	assert.True(t, entity.StatusError.Terminal())
}

func TestJobCounts_Inflight(t *testing.T) {
	c := entity.JobCounts{Queued: 4, Dispatched: 2, Processing: 3}
	assert.Equal(t, 7, c.Inflight())
}
