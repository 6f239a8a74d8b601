package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phamqt/coursehub/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	ProgressUpdate struct {
		LearnerID string          `json:"learner_id"`
		CourseID  string          `json:"course_id"`
		Progress  domain.Progress `json:"progress"`
	}

	EnrollmentCompleted struct {
		LearnerID   string `json:"learner_id"`
		CourseID    string `json:"course_id"`
		CompletedAt string `json:"completed_at"`
	}
)

// PublishProgressUpdated pushes the learner's fresh progress summary to
// their notification channel.
func (a *API) PublishProgressUpdated(ctx context.Context, e domain.EventProgressUpdated) error {
	return a.publishNotification(ctx, learnerChannel(a.prefix, e.LearnerID), e.Name(), ProgressUpdate{
		LearnerID: e.LearnerID,
		CourseID:  e.CourseID,
		Progress:  e.Progress,
	})
}

// PublishEnrollmentCompleted notifies both the learner and the course
// channel, so course dashboards see completions without subscribing to
// every learner.
func (a *API) PublishEnrollmentCompleted(ctx context.Context, e domain.EventEnrollmentCompleted) error {
	en := e.Enrollment

	data := EnrollmentCompleted{
		LearnerID: en.LearnerID,
		CourseID:  en.CourseID,
	}
	if en.CompletedAt != nil {
		data.CompletedAt = en.CompletedAt.UTC().Format(time.RFC3339)
	}

	channels := []string{
		learnerChannel(a.prefix, en.LearnerID),
		courseChannel(a.prefix, en.CourseID),
	}

	var eg errgroup.Group
	for _, ch := range channels {
		ch := ch
		eg.Go(func() error {
			return a.publishNotification(ctx, ch, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func learnerChannel(prefix, learner string) string {
	return fmt.Sprintf("%s:learner:%s", prefix, learner)
}

func courseChannel(prefix, course string) string {
	return fmt.Sprintf("%s:course:%s", prefix, course)
}
