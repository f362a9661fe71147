package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Markk-dev/Temet-sub000/internal/board"
	"github.com/Markk-dev/Temet-sub000/internal/domain"
	"github.com/Markk-dev/Temet-sub000/internal/postgres"
	"github.com/Markk-dev/Temet-sub000/pkg/telemetry"
)

const (
	renumberLeaderKey = "renumber:leader"
	renumberLeaderTTL = 30 * time.Second
)

// Renumberer periodically rewrites saturated partitions at full spacing.
// Partitions approaching the position ceiling, or holding duplicate
// positions left behind by concurrent writes, are rewritten at 1000-spacing
// inside one transaction, and the result is broadcast as tasks-bulk-updated
// so connected clients converge.
//
// Only one instance runs the scan at a time, elected through a Redis key.
type Renumberer struct {
	svc        *Service
	repo       postgres.TaskRepository
	redis      *redis.Client
	instanceID string
	schedule   cron.Schedule
	logger     *slog.Logger
}

// NewRenumberer builds the job. scheduleExpr is a standard cron expression
// or descriptor (e.g. "@every 5m").
func NewRenumberer(svc *Service, repo postgres.TaskRepository, redisClient *redis.Client, instanceID, scheduleExpr string, logger *slog.Logger) (*Renumberer, error) {
	schedule, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		return nil, err
	}
	return &Renumberer{
		svc:        svc,
		repo:       repo,
		redis:      redisClient,
		instanceID: instanceID,
		schedule:   schedule,
		logger:     logger,
	}, nil
}

// Run fires ticks on the cron schedule until ctx is cancelled.
func (r *Renumberer) Run(ctx context.Context) {
	for {
		next := r.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			r.tick(ctx)
		}
	}
}

func (r *Renumberer) tick(ctx context.Context) {
	if !r.acquireOrRenewLeadership(ctx) {
		return
	}
	telemetry.RenumberRuns.Inc()
	if err := r.sweep(ctx); err != nil {
		r.logger.Error("renumber sweep", slog.String("error", err.Error()))
	}
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance is
// the leader.
func (r *Renumberer) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := r.redis.SetNX(ctx, renumberLeaderKey, r.instanceID, renumberLeaderTTL).Result()
	if err != nil {
		r.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		r.logger.Info("acquired renumber leadership", slog.String("instance_id", r.instanceID))
		return true
	}

	// Already set — renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, r.redis,
		[]string{renumberLeaderKey},
		r.instanceID,
		renumberLeaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// sweep scans all partitions and rewrites those that need it.
func (r *Renumberer) sweep(ctx context.Context) error {
	stats, err := r.repo.Partitions(ctx)
	if err != nil {
		return err
	}
	for _, stat := range stats {
		if !needsRenumber(stat) {
			continue
		}
		tasks, err := r.repo.RenumberPartition(ctx, stat.WorkspaceID, stat.Status)
		if err != nil {
			r.logger.Error("renumber partition failed",
				slog.String("workspace_id", stat.WorkspaceID),
				slog.String("status", string(stat.Status)),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.PartitionsRenumbered.Inc()
		r.logger.Info("partition renumbered",
			slog.String("workspace_id", stat.WorkspaceID),
			slog.String("status", string(stat.Status)),
			slog.Int("tasks", len(tasks)),
		)

		details, err := r.svc.denormalizeAll(ctx, tasks)
		if err != nil {
			r.logger.Error("renumber denormalize failed", slog.String("error", err.Error()))
			continue
		}
		r.svc.emit(ctx, stat.WorkspaceID, domain.NewBulkEvent(details))
	}
	return nil
}

// needsRenumber reports whether a partition is close enough to the position
// ceiling to collide soon, or already holds duplicate positions.
func needsRenumber(stat postgres.PartitionStat) bool {
	return stat.Collisions || stat.MaxPosition >= board.PositionMax-board.PositionStep
}
