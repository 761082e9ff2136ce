package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lensbook/services/booking"
)

// fakeProcessor records calls and fails the first failures[op] of them.
type fakeProcessor struct {
	mu        sync.Mutex
	checkouts []CheckoutRequest
	refunds   []RefundRequest
	failures  map[string][]error
	// onRefund runs before each refund is answered.
	onRefund func()
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{failures: map[string][]error{}}
}

func (f *fakeProcessor) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeProcessor) popFailure(op string) error {
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, req)
	if err := f.popFailure("checkout"); err != nil {
		return nil, err
	}
	return &CheckoutHandle{
		SessionID:     fmt.Sprintf("cs_%d", len(f.checkouts)),
		RedirectURL:   "https://pay.example/" + req.ReservationID,
		ReservationID: req.ReservationID,
		Leg:           req.Leg,
		Amount:        req.Amount,
		CreatedAt:     time.Now(),
	}, nil
}

func (f *fakeProcessor) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	f.mu.Lock()
	hook := f.onRefund
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	if err := f.popFailure("refund"); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: fmt.Sprintf("re_%d", len(f.refunds)), Status: "succeeded"}, nil
}

func (f *fakeProcessor) refundCalls() []RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RefundRequest(nil), f.refunds...)
}

func (f *fakeProcessor) checkoutCalls() []CheckoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CheckoutRequest(nil), f.checkouts...)
}

var (
	errUpstream503 = booking.NewTransientProcessorError("refund", fmt.Errorf("503 service unavailable"))
	errDeclined    = booking.NewPermanentProcessorError("refund", fmt.Errorf("charge already refunded"))
)

// memoryCache is an in-process CheckoutCache.
type memoryCache struct {
	mu      sync.Mutex
	handles map[string]*CheckoutHandle
}

func newMemoryCache() *memoryCache {
	return &memoryCache{handles: map[string]*CheckoutHandle{}}
}

func (c *memoryCache) Get(_ context.Context, reservationID string, leg Leg) (*CheckoutHandle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[checkoutIdempotencyKey(reservationID, leg)]
	return h, ok, nil
}

func (c *memoryCache) Put(_ context.Context, h *CheckoutHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[checkoutIdempotencyKey(h.ReservationID, h.Leg)] = h
	return nil
}

func (c *memoryCache) Drop(_ context.Context, reservationID string, leg Leg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, checkoutIdempotencyKey(reservationID, leg))
	return nil
}
