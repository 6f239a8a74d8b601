// Package grading scores quiz submissions against the question set's answer
// keys and decides attempt eligibility. Everything here is pure: no storage,
// no clock, no side effects.
package grading

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/phamqt/coursehub/internal/domain"
)

// AnswerMap indexes submitted answers by question ID.
type AnswerMap map[string]domain.Answer

// BuildAnswerMap indexes a submission by question ID. When a question is
// answered twice the last answer wins.
func BuildAnswerMap(answers []domain.Answer) AnswerMap {
	m := make(AnswerMap, len(answers))
	for _, a := range answers {
		m[a.QuestionID] = a
	}
	return m
}

type QuestionResult struct {
	QuestionID        string          `json:"question_id"`
	Correct           bool            `json:"correct"`
	PointsAwarded     decimal.Decimal `json:"points_awarded"`
	SelectedOptionIDs []string        `json:"selected_option_ids,omitempty"`
	TextAnswer        string          `json:"text_answer,omitempty"`
	CorrectAnswers    []string        `json:"correct_answers"`
}

type Result struct {
	PerQuestion []QuestionResult
	TotalScore  decimal.Decimal
	MaxScore    decimal.Decimal
	Percentage  int
}

// Score grades a submission against the presented question set. MaxScore is
// the sum of points over the questions actually presented, so an attempt is
// always graded against the quiz as it exists at submission time. Unanswered
// questions score zero; they are never an error.
func Score(questions []domain.Question, answers AnswerMap) Result {
	r := Result{
		PerQuestion: make([]QuestionResult, 0, len(questions)),
		TotalScore:  decimal.Zero,
		MaxScore:    decimal.Zero,
	}

	for _, q := range questions {
		r.MaxScore = r.MaxScore.Add(q.Points)

		a, answered := answers[q.QuestionID]
		qr := QuestionResult{
			QuestionID:        q.QuestionID,
			PointsAwarded:     decimal.Zero,
			SelectedOptionIDs: a.SelectedOptionIDs,
			TextAnswer:        a.TextAnswer,
			CorrectAnswers:    q.CorrectAnswers,
		}

		if answered && isCorrect(q, a) {
			qr.Correct = true
			qr.PointsAwarded = q.Points
			r.TotalScore = r.TotalScore.Add(q.Points)
		}

		r.PerQuestion = append(r.PerQuestion, qr)
	}

	r.Percentage = Percentage(r.TotalScore, r.MaxScore)
	return r
}

func isCorrect(q domain.Question, a domain.Answer) bool {
	switch q.Type {
	case domain.QuestionSingleChoice, domain.QuestionTrueFalse:
		// Exactly one option selected, and it must be a correct one.
		if len(a.SelectedOptionIDs) != 1 {
			return false
		}
		return containsString(q.CorrectAnswers, a.SelectedOptionIDs[0])

	case domain.QuestionMultipleChoice:
		// Exact set equality. A strict superset or subset of the key
		// scores zero; there is no partial credit.
		return sameSet(a.SelectedOptionIDs, q.CorrectAnswers)

	case domain.QuestionFillInBlank:
		got := strings.ToLower(strings.TrimSpace(a.TextAnswer))
		for _, want := range q.CorrectAnswers {
			if got == strings.ToLower(strings.TrimSpace(want)) {
				return true
			}
		}
		return false
	}

	return false
}

// Percentage returns round(score/max*100), or 0 when max is zero.
func Percentage(score, max decimal.Decimal) int {
	if max.IsZero() {
		return 0
	}
	return int(score.Div(max).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// CanAttempt reports whether a learner may start or submit another attempt.
// maxAttempts of zero means unlimited.
func CanAttempt(attempts []domain.QuizAttempt, maxAttempts int) bool {
	if maxAttempts == 0 {
		return true
	}
	return len(attempts) < maxAttempts
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}

	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	if len(seen) != len(b) {
		return false
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			return false
		}
	}
	return true
}
