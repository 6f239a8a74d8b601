package domain

const (
	EventNameProgressUpdated     = "progress.updated"
	EventNameQuizGraded          = "quiz.graded"
	EventNameEnrollmentCompleted = "enrollment.completed"
)

type EventProgressUpdated struct {
	LearnerID string
	CourseID  string
	Progress  Progress
}

func (EventProgressUpdated) Name() string { return EventNameProgressUpdated }

type EventQuizGraded struct {
	LearnerID string
	CourseID  string
	Attempt   QuizAttempt
}

func (EventQuizGraded) Name() string { return EventNameQuizGraded }

type EventEnrollmentCompleted struct {
	Enrollment Enrollment
}

func (EventEnrollmentCompleted) Name() string { return EventNameEnrollmentCompleted }
