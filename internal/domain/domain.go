package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionFillInBlank    QuestionType = "fill_in_blank"
)

// Question is one assessable unit inside a quiz. CorrectAnswers holds option
// IDs, except for fill-in-blank questions where it holds the expected text.
type Question struct {
	QuestionID     string          `json:"question_id"`
	Type           QuestionType    `json:"type"`
	Text           string          `json:"text"`
	Options        []Option        `json:"options,omitempty"`
	CorrectAnswers []string        `json:"correct_answers"`
	Points         decimal.Decimal `json:"points"`
}

type Option struct {
	OptionID   string `json:"option_id"`
	OptionText string `json:"option_text"`
}

// Quiz is the content-service view of a quiz: questions with answer keys
// plus grading policy.
type Quiz struct {
	QuizID             string          `json:"quiz_id"`
	CourseID           string          `json:"course_id"`
	Title              string          `json:"title"`
	Questions          []Question      `json:"questions"`
	TotalPoints        decimal.Decimal `json:"total_points"`
	PassingScore       int             `json:"passing_score"` // percentage threshold
	MaxAttempts        int             `json:"max_attempts"`  // 0 means unlimited
	ShowCorrectAnswers bool            `json:"show_correct_answers"`
}

// RecomputeTotalPoints sums the question points. Call after any change to
// Questions so TotalPoints never drifts from its parts.
func (q *Quiz) RecomputeTotalPoints() {
	total := decimal.Zero
	for _, qs := range q.Questions {
		total = total.Add(qs.Points)
	}
	q.TotalPoints = total
}

// Answer is a learner's submitted answer to one question.
type Answer struct {
	QuestionID        string   `json:"question_id"`
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	TextAnswer        string   `json:"text_answer,omitempty"`
}

// QuizAttempt is one scored submission. Attempts are append-only: once
// recorded they are never modified.
type QuizAttempt struct {
	AttemptID        string          `json:"attempt_id"`
	QuizID           string          `json:"quiz_id"`
	AttemptNumber    int             `json:"attempt_number"` // 1-based, gapless per quiz
	Answers          []Answer        `json:"answers"`
	Score            decimal.Decimal `json:"score"`
	MaxScore         decimal.Decimal `json:"max_score"`
	Percentage       int             `json:"percentage"`
	Passed           bool            `json:"passed"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	CompletedAt      time.Time       `json:"completed_at"`
}

// VideoProgressRecord tracks one learner's progress on one video.
// WatchedDuration only ever grows; IsCompleted only flips false to true.
type VideoProgressRecord struct {
	VideoID         string     `json:"video_id"`
	WatchedDuration int        `json:"watched_duration"` // seconds
	IsCompleted     bool       `json:"is_completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastAccessedAt  time.Time  `json:"last_accessed_at"`
}

// Progress is the derived progress cache on an enrollment. It is recomputed
// from the video and attempt records after every mutation.
type Progress struct {
	VideosCompleted   int `json:"videos_completed"`
	TotalVideos       int `json:"total_videos"`
	QuizzesPassed     int `json:"quizzes_passed"`
	TotalQuizzes      int `json:"total_quizzes"`
	OverallPercentage int `json:"overall_percentage"`
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentPaused    EnrollmentStatus = "paused"
	// EnrollmentDropped exists for forward compatibility; dropping is
	// currently modeled as deleting the enrollment record.
	EnrollmentDropped EnrollmentStatus = "dropped"
)

// Enrollment is the aggregate root binding one learner to one course. It
// exclusively owns its video progress records and attempt log; all mutation
// goes through the enrollment service.
type Enrollment struct {
	EnrollmentID   string                `json:"enrollment_id"`
	LearnerID      string                `json:"learner_id"`
	CourseID       string                `json:"course_id"`
	Status         EnrollmentStatus      `json:"status"`
	Progress       Progress              `json:"progress"`
	VideoProgress  []VideoProgressRecord `json:"video_progress"`
	QuizAttempts   []QuizAttempt         `json:"quiz_attempts"`
	TotalWatchTime int                   `json:"total_watch_time"` // seconds
	EnrolledAt     time.Time             `json:"enrolled_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	LastAccessedAt time.Time             `json:"last_accessed_at"`

	// Version is the optimistic-concurrency token, owned by the storage
	// layer and bumped on every successful write.
	Version int64 `json:"-"`
}

// Leaderboard ranks a course's learners by overall progress, best first.
type Leaderboard struct {
	CourseID string
	Entries  []LeaderboardEntry
}

type LeaderboardEntry struct {
	LearnerID         string
	OverallPercentage int
}

// AttemptsForQuiz returns the learner's attempts for one quiz in
// attempt-number order. The attempt log is append-only, so the stored order
// is already the attempt order.
func (e *Enrollment) AttemptsForQuiz(quizID string) []QuizAttempt {
	var out []QuizAttempt
	for _, a := range e.QuizAttempts {
		if a.QuizID == quizID {
			out = append(out, a)
		}
	}
	return out
}

// FindVideoProgress returns a pointer into VideoProgress for the given
// video, or nil if the learner has no record for it yet.
func (e *Enrollment) FindVideoProgress(videoID string) *VideoProgressRecord {
	for i := range e.VideoProgress {
		if e.VideoProgress[i].VideoID == videoID {
			return &e.VideoProgress[i]
		}
	}
	return nil
}
