package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"lensbook/services/booking"
	"lensbook/services/payment"
	"lensbook/services/tasks"
)

// BalanceCheckouter opens the balance checkout of a delivered reservation.
type BalanceCheckouter interface {
	InitiateBalanceCheckout(ctx context.Context, reservationID string) (*payment.CheckoutHandle, error)
}

// RefundRetrier replays a refund whose processor call failed transiently.
type RefundRetrier interface {
	RetryRefund(ctx context.Context, p tasks.RefundRetryPayload) (*payment.RefundOutcome, error)
}

// NewBookingMux routes booking follow-up tasks to their handlers.
func NewBookingMux(checkout BalanceCheckouter, refunds RefundRetrier, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeBalanceCheckout, handleBalanceCheckoutTask(checkout, logger))
	mux.HandleFunc(tasks.TypeRefundRetry, handleRefundRetryTask(refunds, logger))
	return mux
}

// RunBookingWorker runs the asynq server until ctx is done. Start failures are
// retried a few times before giving up.
func RunBookingWorker(ctx context.Context, redisOpts asynq.RedisClientOpt, mux *asynq.ServeMux, logger *zap.Logger) error {
	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: logger.Sugar(),
		},
	)

	go monitorRedisConnection(ctx, redisOpts, logger)

	const maxAttempts = 5
	var err error
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		logger.Info("starting booking worker", zap.Int("attempt", attempts))
		if err = srv.Start(mux); err == nil {
			break
		}
		logger.Error("booking worker failed to start", zap.Int("attempt", attempts), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempts*2) * time.Second):
		}
	}
	if err != nil {
		return fmt.Errorf("booking worker: max start attempts reached: %w", err)
	}

	<-ctx.Done()
	srv.Shutdown()
	logger.Info("booking worker stopped")
	return nil
}

func handleBalanceCheckoutTask(checkout BalanceCheckouter, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p tasks.BalanceCheckoutPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("invalid balance checkout payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		handle, err := checkout.InitiateBalanceCheckout(ctx, p.ReservationID)
		if err != nil {
			return taskError(logger, "balance checkout", p.ReservationID, err)
		}
		logger.Info("balance checkout opened",
			zap.String("reservationId", p.ReservationID),
			zap.String("sessionId", handle.SessionID))
		return nil
	}
}

func handleRefundRetryTask(refunds RefundRetrier, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p tasks.RefundRetryPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("invalid refund retry payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		outcome, err := refunds.RetryRefund(ctx, p)
		if err != nil {
			return taskError(logger, "refund retry", p.ReservationID, err)
		}
		logger.Info("refund retry finished",
			zap.String("reservationId", p.ReservationID),
			zap.String("status", string(outcome.Reservation.Status)))
		return nil
	}
}

// taskError leaves transient processor failures to asynq's retry and marks
// everything else as not retryable.
func taskError(logger *zap.Logger, op, reservationID string, err error) error {
	if booking.IsTransient(err) {
		logger.Warn(op+" failed, will retry", zap.String("reservationId", reservationID), zap.Error(err))
		return err
	}
	var be *booking.Error
	if errors.As(err, &be) && be.Code == booking.CodeInvalidTransition {
		// The reservation moved on; nothing left to do.
		logger.Info(op+" skipped", zap.String("reservationId", reservationID), zap.Error(err))
		return nil
	}
	logger.Error(op+" failed permanently", zap.String("reservationId", reservationID), zap.Error(err))
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func monitorRedisConnection(ctx context.Context, opts asynq.RedisClientOpt, logger *zap.Logger) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	defer client.Close()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("worker redis connection lost", zap.Error(err))
			}
		}
	}
}
