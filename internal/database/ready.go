package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// initialPingBackoff は接続確認リトライの初回遅延。
	initialPingBackoff = 500 * time.Millisecond
	// maxPingBackoff は接続確認リトライの最大遅延。
	maxPingBackoff = 8 * time.Second
)

// Pinger は接続確認できる依存先（*sql.DB等）。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// pingBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大8秒。
func pingBackoff(failures int) time.Duration {
	delay := initialPingBackoff
	for range failures {
		delay *= 2
		if delay > maxPingBackoff {
			return maxPingBackoff
		}
	}
	return delay
}

// WaitForReady はPingContextが成功するまで最大maxAttempts回試行する。
// コンテナ起動直後にDBがまだ接続を受け付けていない場合に使う。
func WaitForReady(ctx context.Context, p Pinger, maxAttempts int) error {
	return waitForReady(ctx, p, maxAttempts, pingBackoff)
}

func waitForReady(ctx context.Context, p Pinger, maxAttempts int, backoff func(int) time.Duration) error {
	maxAttempts = max(maxAttempts, 1)

	var err error
	for attempt := range maxAttempts {
		if err = p.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := backoff(attempt)
		slog.WarnContext(ctx, "データベースへの接続確認に失敗しました。再試行します",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect to database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("failed to connect to database after %d attempts: %w", maxAttempts, err)
}
