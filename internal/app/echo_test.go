package app

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/channelpay/echo-bot/pkg/channel"
)

type transferCall struct {
	params channel.TransferParams
	at     time.Time
}

type transferSenderStub struct {
	mu      sync.Mutex
	calls   []transferCall
	failFor map[string]error // keyed by recipient
}

func (s *transferSenderStub) Transfer(ctx context.Context, params channel.TransferParams) (*channel.TransferReceipt, error) {
	s.mu.Lock()
	s.calls = append(s.calls, transferCall{params: params, at: time.Now()})
	err := s.failFor[params.Recipient]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &channel.TransferReceipt{PaymentID: "0xecho" + params.Recipient}, nil
}

func (s *transferSenderStub) snapshot() []transferCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transferCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func waitForCalls(t *testing.T, stub *transferSenderStub, n int, within time.Duration) []transferCall {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if calls := stub.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d transfer calls within %s, got %d", n, within, len(stub.snapshot()))
	return nil
}

func startResponder(t *testing.T, stub *transferSenderStub, delay time.Duration, workers int) *EchoResponder {
	t.Helper()
	r := NewEchoResponder(stub, zerolog.Nop(), delay, workers)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	t.Cleanup(func() {
		cancel()
		r.Stop()
	})
	return r
}

func unlockEvent(paymentID, sender string, amount int64) channel.PaymentUnlockedEvent {
	return channel.PaymentUnlockedEvent{
		PaymentID: paymentID,
		Amount:    big.NewInt(amount),
		AssetID:   channel.NativeAsset,
		Sender:    sender,
	}
}

func TestEchoResponder_EchoesAmountToSenderAfterDelay(t *testing.T) {
	stub := &transferSenderStub{}
	delay := 60 * time.Millisecond
	r := startResponder(t, stub, delay, 2)

	amount, _ := new(big.Int).SetString("1000000000000000000", 10)
	enqueuedAt := time.Now()
	r.HandlePayment(channel.PaymentUnlockedEvent{
		PaymentID: "0xpay1",
		Amount:    amount,
		AssetID:   channel.NativeAsset,
		Sender:    "0xAAA0000000000000000000000000000000000001",
	})

	calls := waitForCalls(t, stub, 1, time.Second)
	call := calls[0]

	if call.params.Recipient != "0xAAA0000000000000000000000000000000000001" {
		t.Errorf("expected transfer back to sender, got recipient %q", call.params.Recipient)
	}
	if call.params.Amount.String() != "1000000000000000000" {
		t.Errorf("expected identical amount, got %s", call.params.Amount)
	}
	if call.params.AssetID != channel.NativeAsset {
		t.Errorf("expected native asset, got %s", call.params.AssetID.Hex())
	}
	if elapsed := call.at.Sub(enqueuedAt); elapsed < delay {
		t.Errorf("transfer submitted %s after receipt, before the %s delay", elapsed, delay)
	}
}

func TestEchoResponder_ExactlyOneTransferPerEvent(t *testing.T) {
	stub := &transferSenderStub{}
	r := startResponder(t, stub, 10*time.Millisecond, 4)

	for i := 0; i < 5; i++ {
		r.HandlePayment(unlockEvent("0xpay", "sender", 100))
	}

	waitForCalls(t, stub, 5, time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := len(stub.snapshot()); got != 5 {
		t.Fatalf("expected exactly 5 transfers for 5 events, got %d", got)
	}
}

func TestEchoResponder_FailureDoesNotBlockOtherEvents(t *testing.T) {
	stub := &transferSenderStub{
		failFor: map[string]error{
			"senderA": errors.New("insufficient funds"),
		},
	}
	r := startResponder(t, stub, 10*time.Millisecond, 2)

	r.HandlePayment(unlockEvent("0xpayA", "senderA", 10))
	r.HandlePayment(unlockEvent("0xpayB", "senderB", 20))

	calls := waitForCalls(t, stub, 2, time.Second)

	recipients := map[string]bool{}
	for _, c := range calls {
		recipients[c.params.Recipient] = true
	}
	if !recipients["senderA"] || !recipients["senderB"] {
		t.Fatalf("expected independent submissions for both senders, got %v", recipients)
	}
}

func TestEchoResponder_FailureIsSwallowed(t *testing.T) {
	stub := &transferSenderStub{
		failFor: map[string]error{
			"senderA": errors.New("network failure"),
		},
	}
	r := startResponder(t, stub, 5*time.Millisecond, 1)

	r.HandlePayment(unlockEvent("0xpayA", "senderA", 10))
	waitForCalls(t, stub, 1, time.Second)

	// The responder must keep processing after a failed submission.
	r.HandlePayment(unlockEvent("0xpayB", "senderB", 20))
	calls := waitForCalls(t, stub, 2, time.Second)
	if calls[1].params.Recipient != "senderB" {
		t.Fatalf("expected follow-up event to be processed, got %q", calls[1].params.Recipient)
	}
}

func TestEchoResponder_ConcurrentEventsUseDistinctWorkers(t *testing.T) {
	stub := &transferSenderStub{}
	delay := 50 * time.Millisecond
	r := startResponder(t, stub, delay, 4)

	start := time.Now()
	for i := 0; i < 4; i++ {
		r.HandlePayment(unlockEvent("0xpay", "sender", 100))
	}
	calls := waitForCalls(t, stub, 4, time.Second)

	// With four workers the four delays overlap; serial handling would need
	// at least 4x the delay.
	last := calls[3].at
	if elapsed := last.Sub(start); elapsed > 3*delay {
		t.Errorf("expected overlapping delays, last transfer after %s", elapsed)
	}
}
