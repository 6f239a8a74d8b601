// Package enrollment owns the enrollment aggregate: one record per learner
// and course, holding the progress summary, video records, and the
// append-only quiz attempt log. Every mutation is applied as a single
// read-modify-write guarded by an optimistic version check, so two
// concurrent updates for the same learner and course can never interleave.
package enrollment

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/errors"
	"github.com/phamqt/coursehub/internal/event"
	"github.com/phamqt/coursehub/internal/grading"
	"github.com/phamqt/coursehub/internal/progress"
)

const defaultMaxRetries = 5

// ContentProvider supplies quiz content (with answer keys) and course
// counts. The engine never trusts a client-submitted answer key.
type ContentProvider interface {
	GetQuiz(ctx context.Context, courseID, quizID string) (*domain.Quiz, error)
	CourseContent(ctx context.Context, courseID string) (totalVideos, totalQuizzes int, err error)
}

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
	Content  ContentProvider

	// MaxRetries bounds the optimistic-concurrency retry loop. Zero
	// means the default of 5.
	MaxRetries int

	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time
}

type Service struct {
	db         *pgxpool.Pool
	eb         *event.Bus
	content    ContentProvider
	maxRetries int
	now        func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		db:         c.DB,
		eb:         c.EventBus,
		content:    c.Content,
		maxRetries: c.MaxRetries,
		now:        c.NowFunc,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type EnrollRequest struct {
	LearnerID string
	CourseID  string
}

// Enroll creates the enrollment record for a learner and course. The course
// video and quiz counts are snapshotted here and become the stable
// denominator for progress; content added to the course later does not move
// an existing learner's percentage.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*domain.Enrollment, error) {
	totalVideos, totalQuizzes, err := s.content.CourseContent(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate enrollment ID: %w", err)
	}

	now := s.now()
	e := &domain.Enrollment{
		EnrollmentID: id.String(),
		LearnerID:    req.LearnerID,
		CourseID:     req.CourseID,
		Status:       domain.EnrollmentActive,
		Progress: domain.Progress{
			TotalVideos:  totalVideos,
			TotalQuizzes: totalQuizzes,
		},
		EnrolledAt:     now,
		LastAccessedAt: now,
		Version:        1,
	}

	const stmt = `
INSERT INTO enrollments (enrollment_id, learner_id, course_id, status, progress, video_progress, quiz_attempts,
	total_watch_time, enrolled_at, completed_at, last_accessed_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);`

	_, err = s.db.Exec(ctx, stmt,
		e.EnrollmentID, e.LearnerID, e.CourseID, e.Status, e.Progress,
		e.VideoProgress, e.QuizAttempts, e.TotalWatchTime,
		e.EnrolledAt, e.CompletedAt, e.LastAccessedAt, e.Version,
	)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("already enrolled: learner=%s course=%s", req.LearnerID, req.CourseID),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}

	return e, nil
}

type UnenrollRequest struct {
	LearnerID string
	CourseID  string
}

// Unenroll drops the enrollment. Dropping is modeled as deletion; the
// attempt log and video records go with the record.
func (s *Service) Unenroll(ctx context.Context, req UnenrollRequest) error {
	const stmt = `DELETE FROM enrollments WHERE learner_id = $1 AND course_id = $2;`

	ct, err := s.db.Exec(ctx, stmt, req.LearnerID, req.CourseID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return notEnrolled(req.LearnerID, req.CourseID)
	}

	return nil
}

type GetProgressRequest struct {
	LearnerID string
	CourseID  string
}

func (s *Service) GetProgress(ctx context.Context, req GetProgressRequest) (*domain.Enrollment, error) {
	return s.load(ctx, req.LearnerID, req.CourseID)
}

type PauseRequest struct {
	LearnerID string
	CourseID  string
}

// Pause suspends an active enrollment. Progress is kept; only active
// enrollments can be paused.
func (s *Service) Pause(ctx context.Context, req PauseRequest) (*domain.Enrollment, error) {
	return s.setStatus(ctx, req.LearnerID, req.CourseID, domain.EnrollmentActive, domain.EnrollmentPaused)
}

type ResumeRequest struct {
	LearnerID string
	CourseID  string
}

func (s *Service) Resume(ctx context.Context, req ResumeRequest) (*domain.Enrollment, error) {
	return s.setStatus(ctx, req.LearnerID, req.CourseID, domain.EnrollmentPaused, domain.EnrollmentActive)
}

func (s *Service) setStatus(ctx context.Context, learnerID, courseID string, from, to domain.EnrollmentStatus) (*domain.Enrollment, error) {
	var out *domain.Enrollment
	err := s.apply(ctx, learnerID, courseID, func(e *domain.Enrollment) error {
		if e.Status != from {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("enrollment is %s, expected %s", e.Status, from))
		}
		e.Status = to
		e.LastAccessedAt = s.now()
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

type ApplyVideoProgressRequest struct {
	LearnerID       string
	CourseID        string
	VideoID         string
	WatchedDuration int
	IsCompleted     bool
}

type ApplyVideoProgressResponse struct {
	Record          domain.VideoProgressRecord
	Progress        domain.Progress
	CourseCompleted bool
}

// ApplyVideoProgress folds one video-progress ping into the enrollment and
// persists the result atomically.
func (s *Service) ApplyVideoProgress(ctx context.Context, req ApplyVideoProgressRequest) (*ApplyVideoProgressResponse, error) {
	var (
		resp      ApplyVideoProgressResponse
		completed *domain.Enrollment
	)

	err := s.apply(ctx, req.LearnerID, req.CourseID, func(e *domain.Enrollment) error {
		out, err := progress.ApplyVideoProgress(e, progress.VideoUpdate{
			VideoID:         req.VideoID,
			WatchedDuration: req.WatchedDuration,
			IsCompleted:     req.IsCompleted,
		}, s.now())
		if err != nil {
			return err
		}

		resp = ApplyVideoProgressResponse{
			Record:          out.Record,
			Progress:        e.Progress,
			CourseCompleted: out.CourseCompleted,
		}
		completed = nil
		if out.CourseCompleted {
			completed = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventProgressUpdated{
		LearnerID: req.LearnerID,
		CourseID:  req.CourseID,
		Progress:  resp.Progress,
	})
	if completed != nil {
		s.eb.Publish(ctx, domain.EventEnrollmentCompleted{Enrollment: *completed})
	}

	return &resp, nil
}

type SubmitQuizRequest struct {
	LearnerID        string
	CourseID         string
	QuizID           string
	Answers          []domain.Answer
	TimeSpentSeconds int
}

type SubmitQuizResponse struct {
	Attempt  domain.QuizAttempt
	Progress domain.Progress
	// PerQuestion is populated only when the quiz allows revealing the
	// answer key after an attempt.
	PerQuestion     []grading.QuestionResult
	CanRetake       bool
	CourseCompleted bool
}

// SubmitQuiz grades a submission against the quiz content service's answer
// keys and appends the attempt. Eligibility is enforced at commit time
// inside the atomic apply, and the attempt number is assigned there too, so
// double submissions can neither share a number nor slip past the attempt
// limit.
func (s *Service) SubmitQuiz(ctx context.Context, req SubmitQuizRequest) (*SubmitQuizResponse, error) {
	quiz, err := s.content.GetQuiz(ctx, req.CourseID, req.QuizID)
	if err != nil {
		return nil, err
	}

	attemptID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate attempt ID: %w", err)
	}

	var (
		resp      SubmitQuizResponse
		completed *domain.Enrollment
	)

	err = s.apply(ctx, req.LearnerID, req.CourseID, func(e *domain.Enrollment) error {
		out, err := progress.ApplyQuizResult(e, quiz, progress.QuizSubmission{
			Answers:          req.Answers,
			TimeSpentSeconds: req.TimeSpentSeconds,
		}, attemptID.String(), s.now())
		if err != nil {
			return err
		}

		resp = SubmitQuizResponse{
			Attempt:         out.Attempt,
			Progress:        e.Progress,
			CanRetake:       grading.CanAttempt(e.AttemptsForQuiz(quiz.QuizID), quiz.MaxAttempts),
			CourseCompleted: out.CourseCompleted,
		}
		if quiz.ShowCorrectAnswers {
			resp.PerQuestion = out.PerQuestion
		}

		completed = nil
		if out.CourseCompleted {
			completed = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventQuizGraded{
		LearnerID: req.LearnerID,
		CourseID:  req.CourseID,
		Attempt:   resp.Attempt,
	})
	s.eb.Publish(ctx, domain.EventProgressUpdated{
		LearnerID: req.LearnerID,
		CourseID:  req.CourseID,
		Progress:  resp.Progress,
	})
	if completed != nil {
		s.eb.Publish(ctx, domain.EventEnrollmentCompleted{Enrollment: *completed})
	}

	return &resp, nil
}

type QuizForAttemptRequest struct {
	LearnerID string
	CourseID  string
	QuizID    string
}

type QuizForAttemptResponse struct {
	Quiz         *domain.Quiz // answer keys stripped
	AttemptsUsed int
	MaxAttempts  int
	CanAttempt   bool
}

// QuizForAttempt serves quiz content for a new attempt together with the
// learner's eligibility. Eligibility is checked again at submission time;
// this read-time answer can go stale under concurrent submissions.
func (s *Service) QuizForAttempt(ctx context.Context, req QuizForAttemptRequest) (*QuizForAttemptResponse, error) {
	quiz, err := s.content.GetQuiz(ctx, req.CourseID, req.QuizID)
	if err != nil {
		return nil, err
	}

	e, err := s.load(ctx, req.LearnerID, req.CourseID)
	if err != nil {
		return nil, err
	}

	attempts := e.AttemptsForQuiz(req.QuizID)
	return &QuizForAttemptResponse{
		Quiz:         sanitized(quiz),
		AttemptsUsed: len(attempts),
		MaxAttempts:  quiz.MaxAttempts,
		CanAttempt:   grading.CanAttempt(attempts, quiz.MaxAttempts),
	}, nil
}

func sanitized(q *domain.Quiz) *domain.Quiz {
	out := *q
	out.Questions = make([]domain.Question, len(q.Questions))
	for i, qs := range q.Questions {
		qs.CorrectAnswers = nil
		out.Questions[i] = qs
	}
	return &out
}

// apply runs fn against the current enrollment aggregate and persists the
// result with a conditional write on the loaded version. On a version
// conflict the whole cycle reruns against a fresh read, up to maxRetries
// times. fn must be safe to rerun: it only mutates the aggregate it is
// handed.
func (s *Service) apply(ctx context.Context, learnerID, courseID string, fn func(e *domain.Enrollment) error) error {
	for i := 0; i < s.maxRetries; i++ {
		e, err := s.load(ctx, learnerID, courseID)
		if err != nil {
			return err
		}

		if err := fn(e); err != nil {
			return err
		}

		ok, err := s.save(ctx, e)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return errors.New(errors.CodeAborted,
		errors.WithMessagef("concurrent enrollment update: learner=%s course=%s", learnerID, courseID))
}

func (s *Service) load(ctx context.Context, learnerID, courseID string) (*domain.Enrollment, error) {
	const stmt = `
SELECT enrollment_id, learner_id, course_id, status, progress, video_progress, quiz_attempts,
	total_watch_time, enrolled_at, completed_at, last_accessed_at, version
FROM enrollments
WHERE learner_id = $1 AND course_id = $2;`

	e := &domain.Enrollment{}
	err := s.db.QueryRow(ctx, stmt, learnerID, courseID).Scan(
		&e.EnrollmentID, &e.LearnerID, &e.CourseID, &e.Status, &e.Progress,
		&e.VideoProgress, &e.QuizAttempts, &e.TotalWatchTime,
		&e.EnrolledAt, &e.CompletedAt, &e.LastAccessedAt, &e.Version,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notEnrolled(learnerID, courseID)
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}

	return e, nil
}

// save writes the aggregate back conditionally on the version it was loaded
// at. Returns false, nil when another writer got there first.
func (s *Service) save(ctx context.Context, e *domain.Enrollment) (bool, error) {
	const stmt = `
UPDATE enrollments
SET status = $1, progress = $2, video_progress = $3, quiz_attempts = $4,
	total_watch_time = $5, completed_at = $6, last_accessed_at = $7, version = version + 1
WHERE enrollment_id = $8 AND version = $9;`

	ct, err := s.db.Exec(ctx, stmt,
		e.Status, e.Progress, e.VideoProgress, e.QuizAttempts,
		e.TotalWatchTime, e.CompletedAt, e.LastAccessedAt,
		e.EnrollmentID, e.Version,
	)
	if err != nil {
		return false, fmt.Errorf("save enrollment: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

func notEnrolled(learnerID, courseID string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("not enrolled: learner=%s course=%s", learnerID, courseID))
}
