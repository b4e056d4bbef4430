package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/hammamikhairi/voicegate/internal/logger"
	"github.com/hammamikhairi/voicegate/internal/tools"
)

// Options configures the connection attempt.
type Options struct {
	Command        string
	Args           []string
	RetryAttempts  int           // total attempts (default 2)
	RetryBaseDelay time.Duration // backoff base (default 1s)
}

func (o *Options) defaults() {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 2
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
}

// connector is swapped in tests.
type connector func(command string, args []string, log *logger.Logger) (*Client, error)

// Init connects with exponential backoff: the first attempt is
// immediate, attempt n is preceded by base*2^(n-2). After exhausting
// the attempts it returns ErrUnavailable carrying captured stderr; the
// caller treats this as non-fatal.
func Init(ctx context.Context, opts Options, log *logger.Logger) (*Client, []*tools.Descriptor, error) {
	return initWith(ctx, opts, connect, log)
}

func initWith(ctx context.Context, opts Options, dial connector, log *logger.Logger) (*Client, []*tools.Descriptor, error) {
	opts.defaults()

	var lastErr error

	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := opts.RetryBaseDelay * (1 << (attempt - 2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		client, err := dial(opts.Command, opts.Args, log)
		if err == nil {
			discovered := client.Tools()
			log.Info("connected (toolCount=%d, attemptNumber=%d)", len(discovered), attempt)
			return client, discovered, nil
		}

		lastErr = err
		log.Warn("connection attempt %d/%d failed: %v", attempt, opts.RetryAttempts, err)
	}

	log.Error("MCP connection failed after %d attempts", opts.RetryAttempts)
	return nil, nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, opts.RetryAttempts, lastErr)
}
