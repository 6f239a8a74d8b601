//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Requires a running server (CONFIG_PATH pointing at a local config), a
// seeded course "demo-course" with one video and one quiz, and the local
// redis from the compose file.
const (
	baseURL   = "http://localhost:8080/v1"
	redisAddr = "localhost:6379"

	courseID = "demo-course"
	videoID  = "demo-video"
)

func TestCourseCompletionFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	learner := fmt.Sprintf("demo-learner-%d", time.Now().UnixNano())

	// Watch for the completion notification before generating any progress.
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{redisAddr}})
	sub := rc.Subscribe(ctx, fmt.Sprintf("coursehub:learner:%s", learner))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	// Enroll
	var enrollment struct {
		Status   string `json:"status"`
		Progress struct {
			TotalVideos  int `json:"total_videos"`
			TotalQuizzes int `json:"total_quizzes"`
		} `json:"progress"`
	}
	doJSON(t, ctx, http.MethodPost, fmt.Sprintf("%s/learners/%s/courses/%s/enrollment", baseURL, learner, courseID), nil, &enrollment)
	require.Equal(t, "active", enrollment.Status)
	require.Equal(t, 1, enrollment.Progress.TotalVideos)
	require.Equal(t, 1, enrollment.Progress.TotalQuizzes)

	// The same progress ping fired from several tabs at once: the stored
	// duration must be the max and the video must complete exactly once.
	var eg errgroup.Group
	for i := 0; i < 5; i++ {
		eg.Go(func() error {
			req := map[string]any{"watched_duration": 60, "is_completed": true}
			return doJSONErr(ctx, http.MethodPut,
				fmt.Sprintf("%s/learners/%s/courses/%s/videos/%s/progress", baseURL, learner, courseID, videoID), req, nil)
		})
	}
	require.NoError(t, eg.Wait())

	// Look up the quiz, then submit a passing attempt.
	var quizResp struct {
		Quiz struct {
			QuizID    string `json:"quiz_id"`
			Questions []struct {
				QuestionID string `json:"question_id"`
				Options    []struct {
					OptionID string `json:"option_id"`
				} `json:"options"`
				CorrectAnswers []string `json:"correct_answers"`
			} `json:"questions"`
		} `json:"quiz"`
		CanAttempt bool `json:"can_attempt"`
	}
	doJSON(t, ctx, http.MethodGet, fmt.Sprintf("%s/learners/%s/courses/%s/quizzes/demo-quiz", baseURL, learner, courseID), nil, &quizResp)
	require.True(t, quizResp.CanAttempt)
	for _, q := range quizResp.Quiz.Questions {
		require.Empty(t, q.CorrectAnswers, "served quiz content must not leak answer keys")
	}

	answers := make([]map[string]any, 0, len(quizResp.Quiz.Questions))
	for _, q := range quizResp.Quiz.Questions {
		answers = append(answers, map[string]any{
			"question_id":         q.QuestionID,
			"selected_option_ids": []string{q.Options[0].OptionID},
		})
	}

	var submission struct {
		Passed   bool `json:"passed"`
		Progress struct {
			OverallPercentage int `json:"overall_percentage"`
		} `json:"progress"`
		CourseCompleted bool `json:"course_completed"`
	}
	doJSON(t, ctx, http.MethodPost,
		fmt.Sprintf("%s/learners/%s/courses/%s/quizzes/demo-quiz/submissions", baseURL, learner, courseID),
		map[string]any{"answers": answers, "time_spent_seconds": 42}, &submission)
	t.Logf("Submission: passed=%v progress=%d%%", submission.Passed, submission.Progress.OverallPercentage)

	if !submission.CourseCompleted {
		t.Skipf("demo quiz not passed with first options, seed data changed")
	}

	// The completion notification arrives on the learner's channel, after
	// however many progress.updated notifications the pings produced.
	for {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		t.Logf("Notification: %s", msg.Payload)

		var n struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		if n.Event == "enrollment.completed" {
			break
		}
	}
}

func doJSON(t *testing.T, ctx context.Context, method, url string, body, out any) {
	t.Helper()
	require.NoError(t, doJSONErr(ctx, method, url, body, out))
}

func doJSONErr(ctx context.Context, method, url string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, b)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
