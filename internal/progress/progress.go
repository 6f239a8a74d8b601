// Package progress folds video-watch and quiz-attempt state into an
// enrollment's derived progress, and applies mutations to the enrollment
// aggregate as pure in-memory transforms. Persistence is the enrollment
// service's job; nothing here touches storage.
package progress

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/errors"
	"github.com/phamqt/coursehub/internal/grading"
)

// Course completion weights videos at 70% and quizzes at 30%.
var (
	videoWeight = decimal.NewFromFloat(0.70)
	quizWeight  = decimal.NewFromFloat(0.30)
)

// Recompute derives the progress summary from the enrollment's video records
// and full attempt log. Nothing is read from the existing Progress cache, so
// the result can never drift from the underlying records.
func Recompute(e *domain.Enrollment) domain.Progress {
	p := domain.Progress{
		TotalVideos:  e.Progress.TotalVideos,
		TotalQuizzes: e.Progress.TotalQuizzes,
	}

	for _, v := range e.VideoProgress {
		if v.IsCompleted {
			p.VideosCompleted++
		}
	}

	for _, quizID := range distinctQuizIDs(e.QuizAttempts) {
		if best := BestAttempt(e.AttemptsForQuiz(quizID)); best != nil && best.Passed {
			p.QuizzesPassed++
		}
	}

	p.OverallPercentage = overallPercentage(p)
	return p
}

// BestAttempt returns the attempt with the highest score, ties broken by the
// earliest CompletedAt. Returns nil for an empty history.
func BestAttempt(attempts []domain.QuizAttempt) *domain.QuizAttempt {
	var best *domain.QuizAttempt
	for i := range attempts {
		a := &attempts[i]
		if best == nil {
			best = a
			continue
		}
		if a.Score.GreaterThan(best.Score) {
			best = a
			continue
		}
		if a.Score.Equal(best.Score) && a.CompletedAt.Before(best.CompletedAt) {
			best = a
		}
	}
	return best
}

func distinctQuizIDs(attempts []domain.QuizAttempt) []string {
	seen := make(map[string]struct{}, len(attempts))
	var ids []string
	for _, a := range attempts {
		if _, ok := seen[a.QuizID]; ok {
			continue
		}
		seen[a.QuizID] = struct{}{}
		ids = append(ids, a.QuizID)
	}
	return ids
}

func overallPercentage(p domain.Progress) int {
	// An enrollment with no content is 0% complete, not 100%.
	if p.TotalVideos == 0 && p.TotalQuizzes == 0 {
		return 0
	}

	// Totals are snapshotted at enrollment time, so a learner can finish
	// more items than the snapshot counted if content was added later.
	// Cap each part at 100 so the overall percentage can still reach
	// exactly 100 and trip the completion transition.
	part := func(done, total int) decimal.Decimal {
		if total == 0 {
			return decimal.Zero
		}
		if done >= total {
			return decimal.NewFromInt(100)
		}
		return decimal.NewFromInt(int64(done * 100)).Div(decimal.NewFromInt(int64(total)))
	}

	overall := part(p.VideosCompleted, p.TotalVideos).Mul(videoWeight).
		Add(part(p.QuizzesPassed, p.TotalQuizzes).Mul(quizWeight))

	return int(overall.Round(0).IntPart())
}

type VideoUpdate struct {
	VideoID         string
	WatchedDuration int // seconds, cumulative as reported by the player
	IsCompleted     bool
}

type VideoOutcome struct {
	Record          domain.VideoProgressRecord
	NewlyCompleted  bool
	CourseCompleted bool
}

// ApplyVideoProgress folds one video-progress ping into the enrollment.
// WatchedDuration is monotonic (max of old and new) and IsCompleted is a
// one-way ratchet with CompletedAt stamped on the false-to-true edge.
//
// TotalWatchTime accumulates the submitted duration on every call, matching
// how clients report cumulative watch time today. Duplicate pings therefore
// double-count total watch time; it is a telemetry figure, not an input to
// any progress or completion decision.
func ApplyVideoProgress(e *domain.Enrollment, upd VideoUpdate, now time.Time) (VideoOutcome, error) {
	if upd.WatchedDuration < 0 {
		return VideoOutcome{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("watched duration must not be negative, got %d", upd.WatchedDuration))
	}

	rec := e.FindVideoProgress(upd.VideoID)
	if rec == nil {
		e.VideoProgress = append(e.VideoProgress, domain.VideoProgressRecord{VideoID: upd.VideoID})
		rec = &e.VideoProgress[len(e.VideoProgress)-1]
	}

	if upd.WatchedDuration > rec.WatchedDuration {
		rec.WatchedDuration = upd.WatchedDuration
	}

	out := VideoOutcome{}
	if upd.IsCompleted && !rec.IsCompleted {
		rec.IsCompleted = true
		completedAt := now
		rec.CompletedAt = &completedAt
		out.NewlyCompleted = true
	}

	rec.LastAccessedAt = now
	e.LastAccessedAt = now
	e.TotalWatchTime += upd.WatchedDuration

	e.Progress = Recompute(e)
	out.CourseCompleted = applyCompletion(e, now)
	out.Record = *rec
	return out, nil
}

type QuizSubmission struct {
	Answers          []domain.Answer
	TimeSpentSeconds int
}

type QuizOutcome struct {
	Attempt         domain.QuizAttempt
	PerQuestion     []grading.QuestionResult
	FirstPass       bool
	CourseCompleted bool
}

// ApplyQuizResult grades a submission and appends the attempt to the
// enrollment's log. The attempt number is derived from the attempt history
// inside the same aggregate, so as long as the caller applies this inside
// one atomic read-modify-write, numbering is gapless and never duplicated.
// Eligibility is re-checked here, at commit time: a read-time check may have
// raced another submission.
func ApplyQuizResult(e *domain.Enrollment, quiz *domain.Quiz, sub QuizSubmission, attemptID string, now time.Time) (QuizOutcome, error) {
	prior := e.AttemptsForQuiz(quiz.QuizID)
	if !grading.CanAttempt(prior, quiz.MaxAttempts) {
		return QuizOutcome{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("attempt limit reached: quiz=%s max_attempts=%d", quiz.QuizID, quiz.MaxAttempts))
	}

	scored := grading.Score(quiz.Questions, grading.BuildAnswerMap(sub.Answers))

	attempt := domain.QuizAttempt{
		AttemptID:        attemptID,
		QuizID:           quiz.QuizID,
		AttemptNumber:    len(prior) + 1,
		Answers:          sub.Answers,
		Score:            scored.TotalScore,
		MaxScore:         scored.MaxScore,
		Percentage:       scored.Percentage,
		Passed:           scored.Percentage >= quiz.PassingScore,
		TimeSpentSeconds: sub.TimeSpentSeconds,
		CompletedAt:      now,
	}

	out := QuizOutcome{
		Attempt:     attempt,
		PerQuestion: scored.PerQuestion,
	}

	if attempt.Passed {
		out.FirstPass = true
		for _, p := range prior {
			if p.Passed {
				out.FirstPass = false
				break
			}
		}
	}

	e.QuizAttempts = append(e.QuizAttempts, attempt)
	e.LastAccessedAt = now

	e.Progress = Recompute(e)
	out.CourseCompleted = applyCompletion(e, now)
	return out, nil
}

// applyCompletion moves an active enrollment to completed when it reaches
// 100%. The transition is a one-way ratchet: re-reaching 100% does not
// re-stamp CompletedAt, and a later drop below 100% never reverts the
// status.
func applyCompletion(e *domain.Enrollment, now time.Time) bool {
	if e.Progress.OverallPercentage != 100 || e.Status != domain.EnrollmentActive {
		return false
	}

	e.Status = domain.EnrollmentCompleted
	completedAt := now
	e.CompletedAt = &completedAt
	return true
}
