package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threadloom/threadloom-backend/internal/data/actor"
	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/domain/usage"
	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

type QuotaWindow struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Allowed   bool  `json:"allowed"`
}

type UsageSummary struct {
	Daily   QuotaWindow `json:"daily"`
	Monthly QuotaWindow `json:"monthly"`
}

type DayStat struct {
	Date     string                      `json:"date"`
	Messages int64                       `json:"messages"`
	Models   map[string]types.ModelUsage `json:"models"`
}

type UsageStats struct {
	Daily  []DayStat `json:"daily"`
	Totals struct {
		Messages int64                       `json:"messages"`
		Models   map[string]types.ModelUsage `json:"models"`
	} `json:"totals"`
}

type UsageService interface {
	CurrentSummary(ctx context.Context, userID uuid.UUID) (*UsageSummary, error)
	RequireAvailableQuota(ctx context.Context, userID uuid.UUID, provider string, userKeys map[string]string) error
	RecordUsage(ctx context.Context, userID uuid.UUID, modelID string, tu types.TokenUsage) error
	Stats(ctx context.Context, userID uuid.UUID, start, end *time.Time) (*UsageStats, error)
}

type usageService struct {
	actors       actor.Client
	log          *logger.Logger
	dailyLimit   int64
	monthlyLimit int64
	now          func() time.Time
}

func NewUsageService(actors actor.Client, log *logger.Logger, dailyLimit, monthlyLimit int64) UsageService {
	return &usageService{
		actors:       actors,
		log:          log.With("service", "UsageService"),
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func window(used, limit int64) QuotaWindow {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return QuotaWindow{Used: used, Limit: limit, Remaining: remaining, Allowed: used < limit}
}

func (us *usageService) counts(ctx context.Context, userID uuid.UUID) (daily int64, monthly int64, err error) {
	now := us.now()
	today := usage.DayIndex(now)

	day, err := us.actors.UsageDay(ctx, userID, today)
	if err != nil {
		return 0, 0, fmt.Errorf("load usage day: %w", err)
	}
	daily = day.MessagesCount

	monthStart := usage.DayIndex(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC))
	days, err := us.actors.UsageRange(ctx, userID, monthStart, today)
	if err != nil {
		return 0, 0, fmt.Errorf("load usage range: %w", err)
	}
	for _, d := range days {
		monthly += d.MessagesCount
	}
	return daily, monthly, nil
}

func (us *usageService) CurrentSummary(ctx context.Context, userID uuid.UUID) (*UsageSummary, error) {
	daily, monthly, err := us.counts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageSummary{
		Daily:   window(daily, us.dailyLimit),
		Monthly: window(monthly, us.monthlyLimit),
	}, nil
}

// RequireAvailableQuota gates a completion. A user bringing their own key
// for the requested provider bypasses app-level limits entirely. The key
// must be non-blank after trimming, the same test the provider binding
// applies, otherwise a whitespace key would lift the limits and still be
// served on the app credential. Daily is checked before monthly.
func (us *usageService) RequireAvailableQuota(ctx context.Context, userID uuid.UUID, provider string, userKeys map[string]string) error {
	if strings.TrimSpace(userKeys[provider]) != "" {
		return nil
	}
	daily, monthly, err := us.counts(ctx, userID)
	if err != nil {
		return err
	}
	if daily >= us.dailyLimit {
		return apierr.QuotaExceeded(apierr.QuotaDaily)
	}
	if monthly >= us.monthlyLimit {
		return apierr.QuotaExceeded(apierr.QuotaMonthly)
	}
	return nil
}

func (us *usageService) RecordUsage(ctx context.Context, userID uuid.UUID, modelID string, tu types.TokenUsage) error {
	return us.actors.AddUsage(ctx, userID, usage.DayIndex(us.now()), modelID, tu)
}

func (us *usageService) Stats(ctx context.Context, userID uuid.UUID, start, end *time.Time) (*UsageStats, error) {
	now := us.now()
	to := usage.DayIndex(now)
	from := to - 29
	if start != nil {
		from = usage.DayIndex(start.UTC())
	}
	if end != nil {
		to = usage.DayIndex(end.UTC())
	}
	if from > to {
		return nil, apierr.Validation(fmt.Errorf("start date after end date"))
	}

	days, err := us.actors.UsageRange(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load usage range: %w", err)
	}

	stats := &UsageStats{Daily: []DayStat{}}
	stats.Totals.Models = map[string]types.ModelUsage{}
	for _, d := range days {
		models := d.ModelMap()
		stats.Daily = append(stats.Daily, DayStat{
			Date:     time.Unix(d.Day*86400, 0).UTC().Format("2006-01-02"),
			Messages: d.MessagesCount,
			Models:   models,
		})
		stats.Totals.Messages += d.MessagesCount
		for id, m := range models {
			t := stats.Totals.Models[id]
			t.Messages += m.Messages
			t.InputTokens += m.InputTokens
			t.OutputTokens += m.OutputTokens
			t.ReasoningTokens += m.ReasoningTokens
			stats.Totals.Models[id] = t
		}
	}
	return stats, nil
}
