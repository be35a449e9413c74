package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrAttemptTimeout marks an attempt abandoned at its deadline.
var ErrAttemptTimeout = errors.New("attempt timed out")

const defaultTeardownGrace = 2 * time.Second

var tracer = otel.Tracer("github.com/michaelbrown/toolgraph/internal/tools")

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// LoadResult is the outcome of loading one server.
type LoadResult struct {
	Server   string
	Tools    []Tool
	Attempts int
	// Err is the last attempt's error, nil when an attempt succeeded.
	Err error
}

// OK reports whether an attempt succeeded.
func (r LoadResult) OK() bool { return r.Err == nil }

// Loader connects to a single server and fetches its tools, retrying with
// exponential backoff. It holds no per-load state and is safe for
// concurrent use.
type Loader struct {
	connector Connector
	logger    hclog.Logger
	wait      WaitFunc
	grace     time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithWait replaces the backoff wait. Tests use it to record delays.
func WithWait(fn WaitFunc) LoaderOption {
	return func(l *Loader) { l.wait = fn }
}

// WithTeardownGrace bounds how long a timed-out attempt is given to close
// its session before the next attempt starts.
func WithTeardownGrace(d time.Duration) LoaderOption {
	return func(l *Loader) { l.grace = d }
}

// NewLoader creates a loader over connector.
func NewLoader(connector Connector, logger hclog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	l := &Loader{
		connector: connector,
		logger:    logger.Named("loader"),
		wait:      sleep,
		grace:     defaultTeardownGrace,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the server's tools, or an empty slice once every attempt
// has failed. It never returns an error.
func (l *Loader) Load(ctx context.Context, cfg ServerConfig, opts LoadOptions) []Tool {
	return l.LoadServer(ctx, cfg, opts).Tools
}

// LoadServer is Load with the attempt count and last error attached.
func (l *Loader) LoadServer(ctx context.Context, cfg ServerConfig, opts LoadOptions) LoadResult {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	total := opts.MaxRetries + 1

	ctx, span := tracer.Start(ctx, "tools.load_server", trace.WithAttributes(
		attribute.String("server", cfg.Name),
		attribute.String("transport", string(transportOf(cfg))),
	))
	defer span.End()

	res := LoadResult{Server: cfg.Name}
	for attempt := 0; attempt < total; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second // 1s, 2s, 4s
			l.logger.Debug("backing off", "server", cfg.Name, "delay", delay)
			if err := l.wait(ctx, delay); err != nil {
				res.Err = err
				break
			}
		}

		res.Attempts++
		l.logger.Debug("connecting", "server", cfg.Name, "attempt", attempt+1, "of", total)

		tools, err := l.attempt(ctx, cfg, opts.Timeout)
		if err == nil {
			l.logger.Info("loaded tools", "server", cfg.Name, "count", len(tools))
			res.Tools, res.Err = tools, nil
			span.SetAttributes(attribute.Int("attempts", res.Attempts), attribute.Int("tools", len(tools)))
			return res
		}
		res.Err = err

		if errors.Is(err, ErrAttemptTimeout) {
			l.logger.Warn("attempt timed out", "server", cfg.Name, "attempt", attempt+1, "timeout", opts.Timeout)
		} else {
			l.logger.Warn("attempt failed", "server", cfg.Name, "attempt", attempt+1, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	l.logger.Error("giving up on server", "server", cfg.Name, "attempts", res.Attempts, "error", res.Err)
	span.SetAttributes(attribute.Int("attempts", res.Attempts), attribute.Int("tools", 0))
	span.SetStatus(codes.Error, "exhausted retries")
	res.Tools = []Tool{}
	return res
}

type attemptResult struct {
	tools []Tool
	err   error
}

// attempt runs one connect+fetch under its own deadline. The session is
// closed on every path, including a panic inside the connector.
func (l *Loader) attempt(ctx context.Context, cfg ServerConfig, timeout time.Duration) ([]Tool, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		var res attemptResult
		defer func() {
			if r := recover(); r != nil {
				res = attemptResult{err: fmt.Errorf("panic loading %s: %v", cfg.Name, r)}
			}
			done <- res
		}()

		sess, err := l.connector.Connect(actx, cfg)
		if err != nil {
			res.err = err
			return
		}
		defer sess.Close()

		res.tools, res.err = sess.FetchTools(actx)
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
		}
		return res.tools, res.err
	case <-actx.Done():
		// Let the attempt observe cancellation and close its session. A
		// fetch that finished right at the deadline still counts.
		select {
		case res := <-done:
			if res.err == nil {
				return res.tools, nil
			}
		case <-time.After(l.grace):
			l.logger.Warn("attempt did not tear down in time", "server", cfg.Name, "grace", l.grace)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
