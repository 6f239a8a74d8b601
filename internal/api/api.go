package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/phamqt/coursehub/internal/content"
	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/enrollment"
	"github.com/phamqt/coursehub/internal/errors"
	"github.com/phamqt/coursehub/internal/event"
	"github.com/phamqt/coursehub/internal/grading"
	"github.com/phamqt/coursehub/internal/leaderboard"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Enrollment   *enrollment.Service
	Content      *content.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	es *enrollment.Service
	cs *content.Service
	ls *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		es:     c.Enrollment,
		cs:     c.Content,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	v1 := c.Engine.Group("/v1")
	{
		lc := v1.Group("/learners/:learner/courses/:course")
		lc.POST("/enrollment", a.Enroll)
		lc.DELETE("/enrollment", a.Unenroll)
		lc.POST("/enrollment/pause", a.Pause)
		lc.POST("/enrollment/resume", a.Resume)
		lc.GET("/progress", a.GetProgress)
		lc.PUT("/videos/:video/progress", a.ApplyVideoProgress)
		lc.GET("/quizzes/:quiz", a.QuizForAttempt)
		lc.POST("/quizzes/:quiz/submissions", a.SubmitQuiz)

		v1.GET("/courses/:course/leaderboard", a.GetLeaderboard)
		v1.POST("/courses/:course/quizzes", a.CreateQuiz)
	}

	// Notifications for the learner-facing UI
	c.EventBus.Subscribe(domain.EventNameProgressUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishProgressUpdated(ctx, e.(domain.EventProgressUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameEnrollmentCompleted, func(ctx context.Context, e event.Event) error {
		return a.PublishEnrollmentCompleted(ctx, e.(domain.EventEnrollmentCompleted))
	})

	return a
}

func (a *API) Enroll(c *gin.Context) {
	e, err := a.es.Enroll(c.Request.Context(), enrollment.EnrollRequest{
		LearnerID: c.Param("learner"),
		CourseID:  c.Param("course"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, e)
}

func (a *API) Unenroll(c *gin.Context) {
	err := a.es.Unenroll(c.Request.Context(), enrollment.UnenrollRequest{
		LearnerID: c.Param("learner"),
		CourseID:  c.Param("course"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) Pause(c *gin.Context) {
	e, err := a.es.Pause(c.Request.Context(), enrollment.PauseRequest{
		LearnerID: c.Param("learner"),
		CourseID:  c.Param("course"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, e)
}

func (a *API) Resume(c *gin.Context) {
	e, err := a.es.Resume(c.Request.Context(), enrollment.ResumeRequest{
		LearnerID: c.Param("learner"),
		CourseID:  c.Param("course"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, e)
}

func (a *API) GetProgress(c *gin.Context) {
	e, err := a.es.GetProgress(c.Request.Context(), enrollment.GetProgressRequest{
		LearnerID: c.Param("learner"),
		CourseID:  c.Param("course"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, e)
}

type VideoProgressRequest struct {
	WatchedDuration int  `json:"watched_duration" binding:"min=0"`
	IsCompleted     bool `json:"is_completed"`
}

type VideoProgressResponse struct {
	Record          domain.VideoProgressRecord `json:"record"`
	Progress        domain.Progress            `json:"progress"`
	CourseCompleted bool                       `json:"course_completed"`
}

func (a *API) ApplyVideoProgress(c *gin.Context) {
	var req VideoProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, err)
		return
	}

	resp, err := a.es.ApplyVideoProgress(c.Request.Context(), enrollment.ApplyVideoProgressRequest{
		LearnerID:       c.Param("learner"),
		CourseID:        c.Param("course"),
		VideoID:         c.Param("video"),
		WatchedDuration: req.WatchedDuration,
		IsCompleted:     req.IsCompleted,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, VideoProgressResponse{
		Record:          resp.Record,
		Progress:        resp.Progress,
		CourseCompleted: resp.CourseCompleted,
	})
}

func (a *API) QuizForAttempt(c *gin.Context) {
	resp, err := a.es.QuizForAttempt(c.Request.Context(), enrollment.QuizForAttemptRequest{
		LearnerID: c.Param("learner"),
		CourseID:  c.Param("course"),
		QuizID:    c.Param("quiz"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz":          resp.Quiz,
		"attempts_used": resp.AttemptsUsed,
		"max_attempts":  resp.MaxAttempts,
		"can_attempt":   resp.CanAttempt,
	})
}

type SubmitQuizRequest struct {
	Answers []SubmittedAnswer `json:"answers" binding:"required,dive"`
	// TimeSpentSeconds is self-reported by the client.
	TimeSpentSeconds int `json:"time_spent_seconds" binding:"min=0"`
}

type SubmittedAnswer struct {
	QuestionID        string   `json:"question_id" binding:"required"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	TextAnswer        string   `json:"text_answer"`
}

type SubmitQuizResponse struct {
	AttemptNumber     int                  `json:"attempt_number"`
	Score             float64              `json:"score"`
	MaxScore          float64              `json:"max_score"`
	Percentage        int                  `json:"percentage"`
	Passed            bool                 `json:"passed"`
	TimeSpentSeconds  int                  `json:"time_spent_seconds"`
	CanRetake         bool                 `json:"can_retake"`
	CourseCompleted   bool                 `json:"course_completed"`
	Progress          domain.Progress      `json:"progress"`
	PerQuestionResult []QuestionResultView `json:"per_question_result,omitempty"`
}

type QuestionResultView struct {
	QuestionID     string   `json:"question_id"`
	Correct        bool     `json:"correct"`
	PointsAwarded  float64  `json:"points_awarded"`
	CorrectAnswers []string `json:"correct_answers"`
}

func (a *API) SubmitQuiz(c *gin.Context) {
	var req SubmitQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, err)
		return
	}

	answers := make([]domain.Answer, 0, len(req.Answers))
	for _, ans := range req.Answers {
		answers = append(answers, domain.Answer{
			QuestionID:        ans.QuestionID,
			SelectedOptionIDs: ans.SelectedOptionIDs,
			TextAnswer:        ans.TextAnswer,
		})
	}

	resp, err := a.es.SubmitQuiz(c.Request.Context(), enrollment.SubmitQuizRequest{
		LearnerID:        c.Param("learner"),
		CourseID:         c.Param("course"),
		QuizID:           c.Param("quiz"),
		Answers:          answers,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SubmitQuizResponse{
		AttemptNumber:     resp.Attempt.AttemptNumber,
		Score:             resp.Attempt.Score.InexactFloat64(),
		MaxScore:          resp.Attempt.MaxScore.InexactFloat64(),
		Percentage:        resp.Attempt.Percentage,
		Passed:            resp.Attempt.Passed,
		TimeSpentSeconds:  resp.Attempt.TimeSpentSeconds,
		CanRetake:         resp.CanRetake,
		CourseCompleted:   resp.CourseCompleted,
		Progress:          resp.Progress,
		PerQuestionResult: questionResultViews(resp.PerQuestion),
	})
}

func questionResultViews(results []grading.QuestionResult) []QuestionResultView {
	if len(results) == 0 {
		return nil
	}

	out := make([]QuestionResultView, 0, len(results))
	for _, r := range results {
		out = append(out, QuestionResultView{
			QuestionID:     r.QuestionID,
			Correct:        r.Correct,
			PointsAwarded:  r.PointsAwarded.InexactFloat64(),
			CorrectAnswers: r.CorrectAnswers,
		})
	}
	return out
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		CourseID: c.Param("course"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

type CreateQuizRequest struct {
	Title              string           `json:"title" binding:"required"`
	Questions          []CreateQuestion `json:"questions" binding:"required,min=1,dive"`
	PassingScore       int              `json:"passing_score" binding:"min=0,max=100"`
	MaxAttempts        int              `json:"max_attempts" binding:"min=0"`
	ShowCorrectAnswers bool             `json:"show_correct_answers"`
}

type CreateQuestion struct {
	QuestionID     string          `json:"question_id" binding:"required"`
	Type           string          `json:"type" binding:"required,oneof=single_choice multiple_choice true_false fill_in_blank"`
	Text           string          `json:"text" binding:"required"`
	Options        []domain.Option `json:"options"`
	CorrectAnswers []string        `json:"correct_answers" binding:"required,min=1"`
	Points         float64         `json:"points" binding:"min=0"`
}

func (a *API) CreateQuiz(c *gin.Context) {
	var req CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, err)
		return
	}

	questions := make([]domain.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, domain.Question{
			QuestionID:     q.QuestionID,
			Type:           domain.QuestionType(q.Type),
			Text:           q.Text,
			Options:        q.Options,
			CorrectAnswers: q.CorrectAnswers,
			Points:         decimal.NewFromFloat(q.Points),
		})
	}

	quiz, err := a.cs.CreateQuiz(c.Request.Context(), content.CreateQuizRequest{
		CourseID:           c.Param("course"),
		Title:              req.Title,
		Questions:          questions,
		PassingScore:       req.PassingScore,
		MaxAttempts:        req.MaxAttempts,
		ShowCorrectAnswers: req.ShowCorrectAnswers,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, quiz)
}

// abortWithError maps engine errors to their HTTP status. Attempt-limit and
// not-enrolled failures keep their distinct codes so the UI can tell a
// "retake not allowed" from a transient server failure.
func abortWithError(c *gin.Context, err error) {
	e := convertBindingError(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func convertBindingError(err error) *errors.Error {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %s", verrs.Error()))
	}

	var serr *json.SyntaxError
	var terr *json.UnmarshalTypeError
	if stderrors.As(err, &serr) || stderrors.As(err, &terr) || stderrors.Is(err, io.EOF) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed request body"), errors.WithCause(err))
	}

	return errors.Convert(err)
}
