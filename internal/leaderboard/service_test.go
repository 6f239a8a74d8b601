package leaderboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/errors"
	"github.com/phamqt/coursehub/internal/event"
	"github.com/phamqt/coursehub/internal/leaderboard"
)

func TestService_UpdateRanking(t *testing.T) {
	s := makeService(t, event.NewBus())

	err := s.UpdateRanking(context.Background(), domain.EventProgressUpdated{
		LearnerID: "learner-1",
		CourseID:  "course-1",
		Progress:  domain.Progress{OverallPercentage: 64},
	})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		CourseID: "course-1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		CourseID: "course-1",
		Entries: []domain.LeaderboardEntry{
			{LearnerID: "learner-1", OverallPercentage: 64},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_RankingFollowsProgressEvents(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, eb)

	events := []domain.EventProgressUpdated{
		{LearnerID: "learner-1", CourseID: "course-1", Progress: domain.Progress{OverallPercentage: 35}},
		{LearnerID: "learner-2", CourseID: "course-1", Progress: domain.Progress{OverallPercentage: 64}},
		{LearnerID: "learner-1", CourseID: "course-1", Progress: domain.Progress{OverallPercentage: 100}},
	}
	for _, e := range events {
		eb.Publish(context.Background(), e)
	}
	eb.Stop()

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		CourseID: "course-1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		CourseID: "course-1",
		Entries: []domain.LeaderboardEntry{
			{LearnerID: "learner-1", OverallPercentage: 100},
			{LearnerID: "learner-2", OverallPercentage: 64},
		},
	}
	require.Equal(t, want, resp, "later progress overwrites the learner's score, ranking is best first")
}

func TestService_GetLeaderboard_Empty(t *testing.T) {
	s := makeService(t, event.NewBus())

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		CourseID: "course-without-learners",
	})
	require.Error(t, err)
	require.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func makeService(t *testing.T, eb *event.Bus) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Redis:    rc,
		Prefix:   "coursehub",
	})
}
