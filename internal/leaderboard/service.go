// Package leaderboard keeps a per-course ranking of learners by overall
// progress. It is fed from progress.updated events and kept in a redis
// sorted set, so it is eventually consistent with the enrollment store.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/phamqt/coursehub/internal/domain"
	"github.com/phamqt/coursehub/internal/errors"
	"github.com/phamqt/coursehub/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameProgressUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateRanking(ctx, e.(domain.EventProgressUpdated))
	})

	return s
}

type GetLeaderboardRequest struct {
	CourseID string
}

// GetLeaderboard returns the course ranking, best progress first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.rankingKey(req.CourseID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: course=%s", req.CourseID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			LearnerID:         z.Member.(string),
			OverallPercentage: int(z.Score),
		})
	}

	return &domain.Leaderboard{
		CourseID: req.CourseID,
		Entries:  entries,
	}, nil
}

// UpdateRanking overwrites the learner's score in the course ranking.
func (s *Service) UpdateRanking(ctx context.Context, e domain.EventProgressUpdated) error {
	if err := s.redis.ZAdd(ctx, s.rankingKey(e.CourseID), redis.Z{
		Score:  float64(e.Progress.OverallPercentage),
		Member: e.LearnerID,
	}).Err(); err != nil {
		return fmt.Errorf("update ranking: %w", err)
	}

	return nil
}

func (s *Service) rankingKey(course string) string {
	return fmt.Sprintf("%s:%s:ranking", s.prefix, course)
}
