package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

type fakeSubscription struct {
	errs chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errs }

// fakeSubscriber walks a script of subscription outcomes: true establishes a
// subscription that immediately drops with an error, false fails outright.
// Once the script is exhausted it subscribes and stays silent.
type fakeSubscriber struct {
	mu       sync.Mutex
	script   []bool
	attempts []time.Time
	done     chan struct{}
}

func (f *fakeSubscriber) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, _ chan<- ethtypes.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts = append(f.attempts, time.Now())
	idx := len(f.attempts) - 1

	if idx >= len(f.script) {
		close(f.done)
		return &fakeSubscription{errs: make(chan error)}, nil
	}
	if !f.script[idx] {
		return nil, errors.New("connection refused")
	}
	errs := make(chan error, 1)
	errs <- errors.New("stream dropped")
	return &fakeSubscription{errs: errs}, nil
}

func TestRunResetsBackoffAfterSuccessfulSubscription(t *testing.T) {
	sub := &fakeSubscriber{
		// Healthy subscription, two refused reconnects growing the backoff,
		// then a healthy subscription again followed by one more failure.
		script: []bool{true, false, false, true, false},
		done:   make(chan struct{}),
	}

	w := &Watcher{
		eth:       sub,
		pools:     []common.Address{common.HexToAddress("0x0000000000000000000000000000000000000003")},
		baseDelay: 20 * time.Millisecond,
		maxDelay:  500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	finished := make(chan error, 1)
	go func() { finished <- w.Run(ctx) }()

	select {
	case <-sub.done:
		cancel()
	case <-ctx.Done():
		t.Fatal("watcher never exhausted the subscription script")
	}
	<-finished

	sub.mu.Lock()
	attempts := sub.attempts
	sub.mu.Unlock()
	if len(attempts) != 6 {
		t.Fatalf("expected 6 subscription attempts, got %d", len(attempts))
	}

	// Attempts 3 and 4 sit behind the grown backoff; the gap into attempt 5,
	// which follows the successful attempt 4, must have shrunk back down.
	grown := attempts[3].Sub(attempts[2])
	reset := attempts[4].Sub(attempts[3])
	if reset >= grown {
		t.Fatalf("backoff did not reset after a successful subscription: grown %v, next %v", grown, reset)
	}
}
