package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"lensbook/models"
)

const (
	TypeBalanceCheckout = "checkout:balance"
	TypeRefundRetry     = "refund:retry"
)

// BalanceCheckoutPayload asks the worker to open the balance checkout of a
// reservation once its service has been delivered.
type BalanceCheckoutPayload struct {
	ReservationID string `json:"reservationId"`
}

// RefundRetryPayload replays a refund whose processor call failed transiently.
type RefundRetryPayload struct {
	ReservationID string       `json:"reservationId"`
	Amount        models.Money `json:"amount"`
	Reason        string       `json:"reason"`
}

func NewBalanceCheckoutTask(p BalanceCheckoutPayload) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeBalanceCheckout, b)
	opts := []asynq.Option{
		asynq.TaskID(TypeBalanceCheckout + ":" + p.ReservationID),
		asynq.MaxRetry(5),
	}
	return task, opts, nil
}

func NewRefundRetryTask(p RefundRetryPayload, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeRefundRetry, b)
	opts := []asynq.Option{
		asynq.TaskID(TypeRefundRetry + ":" + p.ReservationID),
		asynq.MaxRetry(8),
		asynq.ProcessIn(delay),
	}
	return task, opts, nil
}

// Enqueuer schedules follow-up work for the worker process.
type Enqueuer interface {
	EnqueueBalanceCheckout(ctx context.Context, reservationID string) error
	EnqueueRefundRetry(ctx context.Context, p RefundRetryPayload) error
}

// Queue is the asynq queue every booking task is sent to.
const Queue = "default"

// TaskClient is the part of *asynq.Client the enqueuer needs.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector used to resolve id conflicts.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// AsynqEnqueuer enqueues onto the asynq queue in Redis. Task ids are derived
// from the reservation, so enqueueing a follow-up that is still waiting is a
// no-op. asynq keeps the ids of archived and completed tasks; those are
// deleted and the task enqueued again.
type AsynqEnqueuer struct {
	client     TaskClient
	inspector  TaskInspector
	retryDelay time.Duration
}

func NewAsynqEnqueuer(client TaskClient, inspector TaskInspector, retryDelay time.Duration) *AsynqEnqueuer {
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	return &AsynqEnqueuer{client: client, inspector: inspector, retryDelay: retryDelay}
}

func (e *AsynqEnqueuer) EnqueueBalanceCheckout(ctx context.Context, reservationID string) error {
	task, opts, err := NewBalanceCheckoutTask(BalanceCheckoutPayload{ReservationID: reservationID})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, opts)
}

func (e *AsynqEnqueuer) EnqueueRefundRetry(ctx context.Context, p RefundRetryPayload) error {
	task, opts, err := NewRefundRetryTask(p, e.retryDelay)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, opts)
}

func (e *AsynqEnqueuer) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	_, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		err = e.replaceFinished(ctx, task, opts)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return nil
}

// replaceFinished handles an id conflict. A live task with the same id
// already covers the follow-up; a finished one is removed and task enqueued
// in its place.
func (e *AsynqEnqueuer) replaceFinished(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	id := taskID(opts)
	if e.inspector == nil || id == "" {
		return nil
	}
	info, err := e.inspector.GetTaskInfo(Queue, id)
	switch {
	case isGone(err):
	case err != nil:
		return fmt.Errorf("inspect task %s: %w", id, err)
	case info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted:
		return nil
	default:
		if err := e.inspector.DeleteTask(Queue, id); err != nil && !isGone(err) {
			return fmt.Errorf("delete finished task %s: %w", id, err)
		}
	}

	_, err = e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Another process enqueued it in the meantime.
		return nil
	}
	return err
}

func taskID(opts []asynq.Option) string {
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id, _ := o.Value().(string)
			return id
		}
	}
	return ""
}

func isGone(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

// NopEnqueuer drops every task; follow-ups are then driven through the API.
type NopEnqueuer struct{}

func (NopEnqueuer) EnqueueBalanceCheckout(context.Context, string) error         { return nil }
func (NopEnqueuer) EnqueueRefundRetry(context.Context, RefundRetryPayload) error { return nil }
