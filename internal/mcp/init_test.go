package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hammamikhairi/voicegate/internal/logger"
)

func testLog() *logger.Logger { return logger.New(logger.LevelOff, nil) }

func TestInitGivesUpAfterRetries(t *testing.T) {
	attempts := 0
	var gaps []time.Duration
	last := time.Now()

	dial := func(string, []string, *logger.Logger) (*Client, error) {
		gaps = append(gaps, time.Since(last))
		last = time.Now()
		attempts++
		return nil, errors.New("spawn failed")
	}

	start := time.Now()
	_, _, err := initWith(context.Background(), Options{
		Command:        "missing-server",
		RetryAttempts:  2,
		RetryBaseDelay: 50 * time.Millisecond,
	}, dial, testLog())

	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	// First attempt immediate, second after the base delay.
	if gaps[0] > 20*time.Millisecond {
		t.Fatalf("first attempt was delayed: %s", gaps[0])
	}
	if gaps[1] < 50*time.Millisecond {
		t.Fatalf("second attempt came too early: %s", gaps[1])
	}
	if total := time.Since(start); total > 500*time.Millisecond {
		t.Fatalf("retries took too long: %s", total)
	}
}

func TestInitExponentialBackoff(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()

	dial := func(string, []string, *logger.Logger) (*Client, error) {
		gaps = append(gaps, time.Since(last))
		last = time.Now()
		return nil, errors.New("nope")
	}

	_, _, err := initWith(context.Background(), Options{
		RetryAttempts:  3,
		RetryBaseDelay: 40 * time.Millisecond,
	}, dial, testLog())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// Delays: 0, base, base*2.
	if gaps[1] < 40*time.Millisecond || gaps[1] > 120*time.Millisecond {
		t.Fatalf("attempt 2 gap out of range: %s", gaps[1])
	}
	if gaps[2] < 80*time.Millisecond {
		t.Fatalf("attempt 3 gap not doubled: %s", gaps[2])
	}
}

func TestInitSucceedsOnRetry(t *testing.T) {
	attempts := 0
	dial := func(string, []string, *logger.Logger) (*Client, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return &Client{
			log: testLog(),
			tools: []remoteTool{
				{Name: "list_devices", Description: "lists devices"},
			},
		}, nil
	}

	_, discovered, err := initWith(context.Background(), Options{
		RetryAttempts:  2,
		RetryBaseDelay: 10 * time.Millisecond,
	}, dial, testLog())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(discovered) != 1 || discovered[0].Name != "list_devices" {
		t.Fatalf("unexpected tools: %v", discovered)
	}
}

func TestInitRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(string, []string, *logger.Logger) (*Client, error) {
		cancel() // cancel while the backoff sleep is pending
		return nil, errors.New("down")
	}

	_, _, err := initWith(ctx, Options{
		RetryAttempts:  5,
		RetryBaseDelay: time.Hour,
	}, dial, testLog())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
