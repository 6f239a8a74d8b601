package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/phamqt/coursehub/internal/api"
	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/event"
)

func TestAPI_PublishProgressUpdated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, a := makeAPI(t)

	sub := rc.Subscribe(ctx, "coursehub:learner:learner-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "should be subscribed before publishing")

	err = a.PublishProgressUpdated(ctx, domain.EventProgressUpdated{
		LearnerID: "learner-1",
		CourseID:  "course-1",
		Progress: domain.Progress{
			VideosCompleted:   7,
			TotalVideos:       10,
			QuizzesPassed:     2,
			TotalQuizzes:      4,
			OverallPercentage: 64,
		},
	})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n struct {
		Event string             `json:"event"`
		Data  api.ProgressUpdate `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	require.Equal(t, "progress.updated", n.Event)
	require.Equal(t, "learner-1", n.Data.LearnerID)
	require.Equal(t, 64, n.Data.Progress.OverallPercentage)
}

func TestAPI_PublishEnrollmentCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, a := makeAPI(t)

	channels := []string{
		"coursehub:learner:learner-1",
		"coursehub:course:course-1",
	}
	sub := rc.Subscribe(ctx, channels...)
	defer sub.Close()
	for range channels {
		_, err := sub.Receive(ctx)
		require.NoError(t, err, "should be subscribed before publishing")
	}

	completedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := a.PublishEnrollmentCompleted(ctx, domain.EventEnrollmentCompleted{
		Enrollment: domain.Enrollment{
			LearnerID:   "learner-1",
			CourseID:    "course-1",
			Status:      domain.EnrollmentCompleted,
			CompletedAt: &completedAt,
		},
	})
	require.NoError(t, err)

	// Both the learner and the course channel get the notification.
	seen := make(map[string]api.EnrollmentCompleted, len(channels))
	for range channels {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)

		var n struct {
			Event string                  `json:"event"`
			Data  api.EnrollmentCompleted `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		require.Equal(t, "enrollment.completed", n.Event)
		seen[msg.Channel] = n.Data
	}

	for _, ch := range channels {
		data, ok := seen[ch]
		require.True(t, ok, "missing notification on %s", ch)
		require.Equal(t, "learner-1", data.LearnerID)
		require.Equal(t, "2025-03-01T12:00:00Z", data.CompletedAt)
	}
}

func makeAPI(t *testing.T) (redis.UniversalClient, *api.API) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	gin.SetMode(gin.TestMode)
	a := api.New(api.Config{
		Engine:       gin.New(),
		EventBus:     event.NewBus(),
		Redis:        rc,
		PubsubPrefix: "coursehub",
	})

	return rc, a
}
