package services

import (
	"context"

	"makanMatesAPI/internal/achievement"
)

type AchievementService struct {
	progression *ProgressionService
	table       []achievement.Achievement
}

func NewAchievementService(progression *ProgressionService, table []achievement.Achievement) *AchievementService {
	if len(table) == 0 {
		table = achievement.DefaultTable
	}
	return &AchievementService{progression: progression, table: table}
}

func (s *AchievementService) AchievementsFor(ctx context.Context, uid string) ([]*achievement.AchievementWithStatus, error) {
	counters, err := s.progression.GetCounters(ctx, uid)
	if err != nil {
		return nil, err
	}
	return achievement.Evaluate(*counters, s.table), nil
}
