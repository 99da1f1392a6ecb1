package alert_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow/alertpipe/pkg/alert"
)

func TestNewAlertID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		first := alert.NewAlertID(alert.CategoryInvoice, "42", 1)
		second := alert.NewAlertID(alert.CategoryInvoice, "42", 1)
		assert.Equal(t, first, second)
		assert.Equal(t, "invoice:42:v1", first)
	})

	t.Run("condition version changes the key", func(t *testing.T) {
		v1 := alert.NewAlertID(alert.CategoryPriceAlert, "btc-usd", 1)
		v2 := alert.NewAlertID(alert.CategoryPriceAlert, "btc-usd", 2)
		assert.NotEqual(t, v1, v2)
	})
}

func TestJobValidate(t *testing.T) {
	valid := alert.Job{
		AlertID:  "invoice:42:v1",
		UserID:   "user-1",
		Category: alert.CategoryInvoice,
		Priority: alert.PriorityWarning,
		Title:    "Invoice overdue",
		Message:  "Invoice 42 is overdue.",
		Channels: []alert.Channel{alert.ChannelToast},
	}

	tests := []struct {
		name    string
		mutate  func(*alert.Job)
		wantErr error
	}{
		{name: "valid", mutate: func(j *alert.Job) {}, wantErr: nil},
		{name: "missing alert id", mutate: func(j *alert.Job) { j.AlertID = "" }, wantErr: alert.ErrEmptyAlertID},
		{name: "missing user id", mutate: func(j *alert.Job) { j.UserID = "" }, wantErr: alert.ErrEmptyUserID},
		{name: "missing title", mutate: func(j *alert.Job) { j.Title = "" }, wantErr: alert.ErrEmptyTitle},
		{name: "missing message", mutate: func(j *alert.Job) { j.Message = "" }, wantErr: alert.ErrEmptyMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			err := job.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestJobHasChannel(t *testing.T) {
	job := alert.Job{Channels: []alert.Channel{alert.ChannelToast, alert.ChannelEmail}}
	assert.True(t, job.HasChannel(alert.ChannelToast))
	assert.True(t, job.HasChannel(alert.ChannelEmail))

	job = alert.Job{Channels: []alert.Channel{alert.ChannelEmail}}
	assert.False(t, job.HasChannel(alert.ChannelToast))
}

func TestJobJSONRoundTrip(t *testing.T) {
	job := alert.Job{
		AlertID:    "payment_goal:goal-7:v1",
		UserID:     "user-9",
		Category:   alert.CategoryPaymentGoal,
		Priority:   alert.PriorityInfo,
		Title:      "Goal reached",
		Message:    "You reached your payment goal.",
		ActionURL:  "https://app.example.com/goals/7",
		Channels:   []alert.Channel{alert.ChannelToast, alert.ChannelEmail},
		Metadata:   map[string]string{"goal_id": "7"},
		EnqueuedAt: time.Now().Truncate(time.Second),
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded alert.Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.AlertID, decoded.AlertID)
	assert.Equal(t, job.Channels, decoded.Channels)
	assert.Equal(t, job.Metadata, decoded.Metadata)
	assert.True(t, job.EnqueuedAt.Equal(decoded.EnqueuedAt))
}
