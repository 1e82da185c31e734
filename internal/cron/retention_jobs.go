package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

const (
	OutboxRetentionJobName     = "outbox-retention"
	NotificationCleanupJobName = "notification-cleanup"

	defaultOutboxRetention       = 30 * 24 * time.Hour
	defaultNotificationRetention = 90 * 24 * time.Hour
	outboxKeepAttempts           = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts int) (int64, error)
}

type notificationPruner interface {
	DeleteReadBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deleteFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// retentionJob deletes rows older than a fixed window in one transaction.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	db        txRunner
	metrics   *metrics.CronJobMetrics
	retention time.Duration
	remove    deleteFunc
	now       func() time.Time
}

type RetentionJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Metrics   *metrics.CronJobMetrics
	Retention time.Duration
}

// NewOutboxRetentionJob prunes published outbox rows. Rows that needed
// several publish attempts are kept for troubleshooting.
func NewOutboxRetentionJob(params RetentionJobParams, repo outboxPruner) (Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job, err := newRetentionJob(OutboxRetentionJobName, params, defaultOutboxRetention,
		func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return repo.DeletePublishedBefore(ctx, tx, cutoff, outboxKeepAttempts)
		})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// NewNotificationCleanupJob prunes notifications the user already read.
func NewNotificationCleanupJob(params RetentionJobParams, repo notificationPruner) (Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	job, err := newRetentionJob(NotificationCleanupJobName, params, defaultNotificationRetention, repo.DeleteReadBefore)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func newRetentionJob(name string, params RetentionJobParams, fallback time.Duration, remove deleteFunc) (*retentionJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = fallback
	}
	return &retentionJob{
		name:      name,
		logg:      params.Logger,
		db:        params.DB,
		metrics:   params.Metrics,
		retention: retention,
		remove:    remove,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.remove(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.metrics.AddProcessed(j.name, int(deleted))
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention cleanup complete")
	return nil
}
