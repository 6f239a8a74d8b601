// Package content serves course and quiz content. It is the source of truth
// for answer keys: grading always reads the question set from here, never
// from anything the client submitted.
package content

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// GetQuiz returns the full quiz including answer keys. Callers serving quiz
// content to learners must strip the keys first, see Sanitized.
func (s *Service) GetQuiz(ctx context.Context, courseID, quizID string) (*domain.Quiz, error) {
	const stmt = `
SELECT quiz_id, course_id, title, questions, passing_score, max_attempts, show_correct_answers
FROM quizzes
WHERE course_id = $1 AND quiz_id = $2;`

	q := &domain.Quiz{}
	err := s.db.QueryRow(ctx, stmt, courseID, quizID).Scan(
		&q.QuizID, &q.CourseID, &q.Title, &q.Questions,
		&q.PassingScore, &q.MaxAttempts, &q.ShowCorrectAnswers,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: course=%s quiz=%s", courseID, quizID))
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	q.RecomputeTotalPoints()
	return q, nil
}

// CourseContent returns the video and quiz counts for a course. Enrollment
// creation snapshots these onto the enrollment as the progress denominator.
func (s *Service) CourseContent(ctx context.Context, courseID string) (totalVideos, totalQuizzes int, err error) {
	const stmt = `SELECT total_videos, total_quizzes FROM courses WHERE course_id = $1;`

	err = s.db.QueryRow(ctx, stmt, courseID).Scan(&totalVideos, &totalQuizzes)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("course not found: course=%s", courseID))
	}
	if err != nil {
		return 0, 0, fmt.Errorf("course content: %w", err)
	}

	return totalVideos, totalQuizzes, nil
}

type CreateQuizRequest struct {
	CourseID           string
	Title              string
	Questions          []domain.Question
	PassingScore       int
	MaxAttempts        int
	ShowCorrectAnswers bool
}

// CreateQuiz stores a new quiz. TotalPoints is recomputed from the question
// set rather than trusted from the request.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.Quiz, error) {
	if err := validateQuestions(req.Questions); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate quiz ID: %w", err)
	}

	q := &domain.Quiz{
		QuizID:             id.String(),
		CourseID:           req.CourseID,
		Title:              req.Title,
		Questions:          req.Questions,
		PassingScore:       req.PassingScore,
		MaxAttempts:        req.MaxAttempts,
		ShowCorrectAnswers: req.ShowCorrectAnswers,
	}
	q.RecomputeTotalPoints()

	const stmt = `
INSERT INTO quizzes (quiz_id, course_id, title, questions, total_points, passing_score, max_attempts, show_correct_answers)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err = s.db.Exec(ctx, stmt,
		q.QuizID, q.CourseID, q.Title, q.Questions, q.TotalPoints,
		q.PassingScore, q.MaxAttempts, q.ShowCorrectAnswers,
	)

	var pgErr *pgconn.PgError
	const codeForeignKeyViolation = "23503"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("course not found: course=%s", req.CourseID),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}

	return q, nil
}

func validateQuestions(questions []domain.Question) error {
	for _, q := range questions {
		if len(q.CorrectAnswers) == 0 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %s has no correct answers", q.QuestionID))
		}
		if q.Points.IsNegative() {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %s has negative points", q.QuestionID))
		}
	}
	return nil
}
