package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yashrajoria/marketplace/services/payment-service/models"
)

var all = []models.Status{
	models.StatusInitiated, models.StatusProcessing, models.StatusCompleted,
	models.StatusFailed, models.StatusRefunded, models.StatusCancelled,
}

func TestTransitionTable(t *testing.T) {
	allowed := map[models.Status][]models.Status{
		models.StatusInitiated:  {models.StatusProcessing, models.StatusCancelled},
		models.StatusProcessing: {models.StatusCompleted, models.StatusFailed, models.StatusCancelled},
		models.StatusCompleted:  {models.StatusRefunded},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestCompletedIsNeverCancelled(t *testing.T) {
	assert.False(t, models.StatusCompleted.CanTransitionTo(models.StatusCancelled))
	assert.False(t, models.StatusCompleted.Open())
	assert.True(t, models.StatusProcessing.Open())
	assert.True(t, models.StatusRefunded.Settled())
}

func TestAcceptsCapture(t *testing.T) {
	for _, s := range all {
		want := s == models.StatusInitiated || s == models.StatusProcessing || s == models.StatusCancelled
		assert.Equal(t, want, s.AcceptsCapture(), string(s))
	}
}

func TestParseStatus(t *testing.T) {
	s, err := models.ParseStatus("Completed")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, s)
	_, err = models.ParseStatus("succeeded")
	assert.Error(t, err)
}

func TestMethod(t *testing.T) {
	assert.True(t, models.MethodUPI.Valid())
	assert.False(t, models.Method("cod").Valid())
}

func TestStampTransition(t *testing.T) {
	now := time.Now()
	f := models.StampTransition(models.StatusRefunded, now)
	assert.Equal(t, models.StatusRefunded, f["status"])
	assert.Equal(t, now, f["refunded_at"])
	assert.Len(t, models.StampTransition(models.StatusProcessing, now), 1)
}
