package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/channelpay/echo-bot/pkg/channel"
)

// transferTimeout bounds a single echo submission so a hung node call frees
// its worker eventually.
const transferTimeout = 30 * time.Second

// TransferSender is the slice of the channel client the responder needs.
type TransferSender interface {
	Transfer(ctx context.Context, params channel.TransferParams) (*channel.TransferReceipt, error)
}

type pendingEcho struct {
	event      channel.PaymentUnlockedEvent
	receivedAt time.Time
}

// EchoResponder echoes every unlocked inbound payment back to its sender:
// same amount, native asset, after a fixed delay. The delay keeps the
// reciprocal transfer from contending with the node while it is still
// finalizing the inbound unlock.
//
// Work runs on a bounded pool of workers instead of one goroutine per event,
// so an event burst cannot grow the process without limit. Events are handled
// independently: no ordering between them, no retry, and no record of which
// events have been answered. A transfer scheduled but not yet executed at
// shutdown is dropped.
type EchoResponder struct {
	client  TransferSender
	log     zerolog.Logger
	delay   time.Duration
	workers int

	tasks chan pendingEcho
	wg    sync.WaitGroup
}

// NewEchoResponder creates a responder with the given post-event delay and
// worker count. The queue holds a burst of four tasks per worker before
// HandlePayment blocks the delivering subscriber.
func NewEchoResponder(client TransferSender, log zerolog.Logger, delay time.Duration, workers int) *EchoResponder {
	if workers < 1 {
		workers = 1
	}
	return &EchoResponder{
		client:  client,
		log:     log,
		delay:   delay,
		workers: workers,
		tasks:   make(chan pendingEcho, workers*4),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (r *EchoResponder) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.log.Info().
		Int("workers", r.workers).
		Dur("delay", r.delay).
		Msg("echo responder started")
}

// Stop waits for the workers to exit. Call after cancelling the Start context.
func (r *EchoResponder) Stop() {
	r.wg.Wait()
}

// HandlePayment enqueues one inbound unlock event for echoing. It blocks if
// the task queue is full, applying backpressure to the event subscription.
func (r *EchoResponder) HandlePayment(event channel.PaymentUnlockedEvent) {
	r.log.Debug().
		Str("payment_id", event.PaymentID).
		Str("sender", event.Sender).
		Str("amount", event.Amount.String()).
		Msg("payment unlocked")
	r.tasks <- pendingEcho{event: event, receivedAt: time.Now()}
}

func (r *EchoResponder) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			r.echo(ctx, task)
		}
	}
}

func (r *EchoResponder) echo(ctx context.Context, task pendingEcho) {
	// The delay runs from event receipt, not from dequeue.
	if wait := time.Until(task.receivedAt.Add(r.delay)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	event := task.event
	callCtx, cancel := context.WithTimeout(ctx, transferTimeout)
	receipt, err := r.client.Transfer(callCtx, channel.TransferParams{
		Amount:    event.Amount,
		Recipient: event.Sender,
		AssetID:   channel.NativeAsset,
	})
	cancel()
	if err != nil {
		// Swallowed: the inbound payment is not retried or reconciled.
		r.log.Error().
			Err(err).
			Str("sender", event.Sender).
			Str("inbound_payment_id", event.PaymentID).
			Str("amount", event.Amount.String()).
			Msg("echo transfer failed")
		return
	}

	r.log.Info().
		Str("sender", event.Sender).
		Str("inbound_payment_id", event.PaymentID).
		Str("outbound_payment_id", receipt.PaymentID).
		Str("amount", event.Amount.String()).
		Msg("echoed payment back to sender")
}
