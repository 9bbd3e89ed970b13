package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 10 * time.Millisecond
	DefaultMaxPageSize  = 100
)

// retrier 只針對 ErrConcurrencyConflict 做有限次數的指數退避重試
type retrier struct {
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// RetryOption 併發衝突重試的配置選項，LedgerEngine 與 AccountManager 共用
type RetryOption func(*retrier)

// WithMaxRetries 設定衝突重試次數，0 表示不重試
func WithMaxRetries(n int) RetryOption {
	return func(r *retrier) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithRetryBackoff 設定第一次重試前的等待時間，之後每次加倍
func WithRetryBackoff(d time.Duration) RetryOption {
	return func(r *retrier) {
		if d > 0 {
			r.backoff = d
		}
	}
}

func newRetrier(logger *slog.Logger, opts ...RetryOption) *retrier {
	r := &retrier{
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// do 執行 fn，衝突時最多重試 maxRetries 次 (總共 maxRetries+1 次)
//
// 參數:
//
//	ctx: 上下文，等待退避期間取消會直接回傳 ctx.Err()
//	op: 操作名稱 (log 用)
//	fn: 一次完整的 unit of work
//
// 回傳:
//
//	error: fn 的最後一次錯誤
func (r *retrier) do(ctx context.Context, op string, fn func() error) error {
	wait := r.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsRetryable(err) || attempt > r.maxRetries {
			return err
		}

		r.logger.WarnContext(ctx, "concurrency conflict, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}
