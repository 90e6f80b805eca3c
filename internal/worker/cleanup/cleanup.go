// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 失効したVerificationとセッションをcronスケジュールで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/socialauth/internal/metrics"
)

// ExpiredDeleter は期限切れレコードの削除を抽象化するインターフェース。
// SessionRepositoryとVerificationRepositoryが満たす。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れのVerificationとセッションを削除するジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	verifications ExpiredDeleter
	sessions      ExpiredDeleter
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewCleanupJob(verifications, sessions ExpiredDeleter, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		verifications: verifications,
		sessions:      sessions,
		metrics:       collector,
		logger:        logger,
		now:           time.Now,
	}
}

// Run は期限切れのVerificationとセッションを削除する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	verificationCount, verr := j.delete(ctx, "verification", j.verifications, now)
	sessionCount, serr := j.delete(ctx, "session", j.sessions, now)

	if err := errors.Join(verr, serr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_verifications", verificationCount),
		slog.Int64("deleted_sessions", sessionCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) delete(ctx context.Context, kind string, deleter ExpiredDeleter, now time.Time) (int64, error) {
	n, err := deleter.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("期限切れデータの削除に失敗しました",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", kind, err)
	}
	j.metrics.RecordCleanupDeleted(kind, n)
	return n, nil
}

// ParseSchedule はCLEANUP_SCHEDULEを検証する。
// 5フィールドのcron式と"@every 1h"等の記述子を受け付ける。
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Start は起動直後に1回Runを実行し、以降はscheduleに従って実行する。
// 前回の実行が終わっていない場合はその回をスキップする。
// ctxがキャンセルされると実行中のジョブの完了を待って戻る。
func (j *CleanupJob) Start(ctx context.Context, spec string) error {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() { j.runLogged(ctx) }))

	j.logger.Info("クリーンアップスケジューラを開始しました", slog.String("schedule", spec))

	// 起動直後に1回実行
	j.runLogged(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	j.logger.Info("クリーンアップスケジューラを停止しました")
	return nil
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}
}
