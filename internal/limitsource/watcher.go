package limitsource

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/tradesignals-web/internal/log"
)

const (
	DefaultPollInterval = time.Minute

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 10 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollApplied
	pollError
)

func (r pollResult) String() string {
	switch r {
	case pollNoChange:
		return "unchanged"
	case pollApplied:
		return "applied"
	default:
		return "error"
	}
}

// Fetcher is what the Watcher needs from a Source.
type Fetcher interface {
	Fetch(ctx context.Context) (Limits, int64, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncLimitsPoll(result string)
}

type WatcherOptions struct {
	Logger       log.Logger
	Source       Fetcher
	PollInterval time.Duration

	// Version already applied at startup, so the first poll does not re-apply it.
	InitialVersion int64

	// OnChange receives every new, valid document. Called on the poll goroutine.
	OnChange func(Limits)

	Metrics WatcherMetrics
}

// Watcher polls a Source and hands changed documents to OnChange.
type Watcher struct {
	source   Fetcher
	logger   log.Logger
	interval time.Duration
	onChange func(Limits)
	metrics  WatcherMetrics

	version         int64
	consecutiveErrs int
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		source:   opts.Source,
		logger:   opts.Logger,
		interval: interval,
		onChange: opts.OnChange,
		metrics:  opts.Metrics,
		version:  opts.InitialVersion,
	}
}

// Run polls until ctx is cancelled. Launch as: go w.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "limits watcher starting",
		"poll_interval", w.interval.String(),
		"current_version", w.version,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "limits watcher stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			switch {
			case result == pollError:
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "limits watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			case w.consecutiveErrs > 0:
				w.logger.Info(ctx, "limits watcher: recovered", "had_consecutive_errors", w.consecutiveErrs)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}
		}
	}
}

// checkOnce runs one fetch-compare-apply cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	result := w.poll(ctx)
	if w.metrics != nil {
		w.metrics.IncLimitsPoll(result.String())
	}
	return result
}

func (w *Watcher) poll(ctx context.Context) pollResult {
	limits, version, err := w.source.Fetch(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "limits watcher: fetch failed, keeping current limits")
		return pollError
	}
	if version == w.version {
		return pollNoChange
	}

	w.logger.Info(ctx, "limits watcher: new limits document",
		"old_version", w.version,
		"new_version", version,
		"routes", limits.Names(),
	)
	w.version = version

	if w.onChange != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnChange panic: %v", r),
						"limits watcher: OnChange callback panicked, continuing",
						"version", version,
					)
				}
			}()
			w.onChange(limits)
		}()
	}
	return pollApplied
}

// backoffDuration doubles the interval per consecutive error, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}
