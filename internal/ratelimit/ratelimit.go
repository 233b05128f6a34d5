package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/keithlinneman/tradesignals-web/internal/httpmw"
	"github.com/keithlinneman/tradesignals-web/internal/xerrors"
)

const (
	DefaultLimit      = 5
	DefaultWindow     = time.Minute
	DefaultMaxEntries = 500

	// MinWindow is the smallest window accepted; windows are configured in milliseconds.
	MinWindow = time.Millisecond

	MessageAllowed   = "Request allowed"
	MessageThrottled = "Too many requests. Please try again later."
)

// ErrThrottled is returned by Result.Err for a denied request.
var ErrThrottled = errors.New("too many requests")

// Result is the outcome of a single check.
// RetryAfter is zero when Success is true and within [0, window] otherwise.
type Result struct {
	Success    bool
	Message    string
	RetryAfter time.Duration
}

// Err returns ErrThrottled for a denial and nil otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return ErrThrottled
}

func allowed() Result { return Result{Success: true, Message: MessageAllowed} }

// Policy is the pair of numbers a route is configured with.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) Validate() error {
	var errs []error
	if p.Limit < 1 {
		errs = append(errs, xerrors.Newf("limit must be >= 1, got %d", p.Limit))
	}
	if p.Window < MinWindow {
		errs = append(errs, xerrors.Newf("window must be >= %s, got %s", MinWindow, p.Window))
	}
	return errors.Join(errs...)
}

// counter tracks one client's current window. notified records whether the
// first-denial hook already ran for this window.
type counter struct {
	count       int
	windowStart time.Time
	notified    bool
}

// Limiter is safe for concurrent use. The zero value is not usable; use New.
type Limiter struct {
	name       string
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time

	// mu covers the whole get, increment, store sequence so concurrent
	// requests from one client cannot lose increments. It also guards the
	// cache, which has no lock of its own.
	mu    sync.Mutex
	cache *simplelru.LRU[string, *counter]

	// resetting is set while Reset or SetPolicy drop every entry, so those
	// drops do not reach onEvict.
	resetting bool

	onAllowed     func(key string)
	onDenied      func(key string, retryAfter time.Duration)
	onFirstDenied func(key string, retryAfter time.Duration)
	onEvict       func(key string)
}

type Option func(*Limiter)

// WithPolicy sets limit and window together.
func WithPolicy(p Policy) Option {
	return func(l *Limiter) {
		l.limit = p.Limit
		l.window = p.Window
	}
}

// WithLimit sets how many requests a client may make per window.
func WithLimit(n int) Option {
	return func(l *Limiter) { l.limit = n }
}

// WithWindow sets the window length. An entry is dropped once its window has closed.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithMaxEntries bounds the number of tracked clients.
func WithMaxEntries(n int) Option {
	return func(l *Limiter) { l.maxEntries = n }
}

// WithName labels the limiter in logs and metrics.
func WithName(name string) Option {
	return func(l *Limiter) { l.name = name }
}

// WithClock replaces time.Now. Entry expiry follows the same clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithOnAllowed sets a callback for every allowed request.
func WithOnAllowed(fn func(key string)) Option {
	return func(l *Limiter) { l.onAllowed = fn }
}

// WithOnDenied sets a callback for every denied request, used for counters.
func WithOnDenied(fn func(key string, retryAfter time.Duration)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnFirstDenied sets a callback for the first denial of a client in each
// window, used for logging. A client hammering a closed window produces one
// call, not one per request.
func WithOnFirstDenied(fn func(key string, retryAfter time.Duration)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnEvict sets a callback for entries dropped by capacity or expiry.
// Reset and window changes do not call it. It runs with the limiter lock
// held and must not call back into the Limiter.
func WithOnEvict(fn func(key string)) Option {
	return func(l *Limiter) { l.onEvict = fn }
}

// New builds an independent limiter. Two limiters never share state.
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		name:       "default",
		limit:      DefaultLimit,
		window:     DefaultWindow,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}

	if err := (Policy{Limit: l.limit, Window: l.window}).Validate(); err != nil {
		return nil, xerrors.Wrapf(err, "ratelimit %q", l.name)
	}
	if l.maxEntries < 1 {
		return nil, xerrors.Newf("ratelimit %q: max entries must be >= 1, got %d", l.name, l.maxEntries)
	}
	if l.now == nil {
		l.now = time.Now
	}

	cache, err := simplelru.NewLRU[string, *counter](l.maxEntries, l.evicted)
	if err != nil {
		return nil, xerrors.Wrapf(err, "ratelimit %q", l.name)
	}
	l.cache = cache

	return l, nil
}

func (l *Limiter) evicted(key string, _ *counter) {
	if l.onEvict != nil && !l.resetting {
		l.onEvict(key)
	}
}

// expired reports whether c's window has closed. Caller holds mu.
func (l *Limiter) expired(c *counter, now time.Time) bool {
	return now.Sub(c.windowStart) >= l.window
}

// pruneLocked drops every entry whose window has closed. Keys are scanned
// in full since a recently touched entry can still hold an old window.
func (l *Limiter) pruneLocked(now time.Time) {
	for _, k := range l.cache.Keys() {
		if c, ok := l.cache.Peek(k); ok && l.expired(c, now) {
			l.cache.Remove(k)
		}
	}
}

// purgeLocked drops every entry without reporting evictions. Caller holds mu.
func (l *Limiter) purgeLocked() {
	l.resetting = true
	l.cache.Purge()
	l.resetting = false
}

func (l *Limiter) Name() string    { return l.name }
func (l *Limiter) MaxEntries() int { return l.maxEntries }

func (l *Limiter) Policy() Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Policy{Limit: l.limit, Window: l.window}
}

// SetPolicy changes limit and window at runtime. Changing only the limit
// keeps every counter. Changing the window starts every client over.
func (l *Limiter) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return xerrors.Wrapf(err, "ratelimit %q", l.name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = p.Limit
	if p.Window != l.window {
		l.window = p.Window
		l.purgeLocked()
	}
	return nil
}

// Len reports how many clients are currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return l.cache.Len()
}

// Check derives the client key from r and records one request for it.
func (l *Limiter) Check(r *http.Request) Result {
	return l.CheckKey(httpmw.ClientKey(r.Header))
}

// CheckKey records one request for an already derived client key.
func (l *Limiter) CheckKey(key string) Result {
	now := l.now()

	l.mu.Lock()
	c, ok := l.cache.Get(key)
	if !ok || l.expired(c, now) {
		if !ok && l.cache.Len() >= l.maxEntries {
			// closed windows go before a live client is evicted
			l.pruneLocked(now)
		}
		l.cache.Add(key, &counter{count: 1, windowStart: now})
		l.mu.Unlock()
		l.fireAllowed(key)
		return allowed()
	}

	c.count++
	// Get already moved the entry to the front
	l.cache.Add(key, c)

	if c.count <= l.limit {
		l.mu.Unlock()
		l.fireAllowed(key)
		return allowed()
	}

	retryAfter := clamp(l.window-now.Sub(c.windowStart), 0, l.window)
	first := !c.notified
	c.notified = true
	l.mu.Unlock()

	// hooks run unlocked; they may log or touch metrics
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(key, retryAfter)
	}
	if l.onDenied != nil {
		l.onDenied(key, retryAfter)
	}

	return Result{Success: false, Message: MessageThrottled, RetryAfter: retryAfter}
}

func (l *Limiter) fireAllowed(key string) {
	if l.onAllowed != nil {
		l.onAllowed(key)
	}
}

// Reset forgets every tracked client.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked()
}

func clamp(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}

type throttledBody struct {
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// Middleware rejects requests over the limit with 429 and a JSON body
// carrying the message and retryAfter in milliseconds. The Retry-After
// header is the same delay in whole seconds, rounded up.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := httpmw.ClientIPFromContext(r.Context())
		if key == "" {
			key = httpmw.ClientKey(r.Header)
		}

		res := l.CheckKey(key)
		if res.Success {
			next.ServeHTTP(w, r)
			return
		}
		WriteThrottled(w, res)
	})
}

// WriteThrottled writes the 429 response for a denied Result.
func WriteThrottled(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(res.RetryAfter), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(throttledBody{
		Message:    res.Message,
		RetryAfter: res.RetryAfter.Milliseconds(),
	})
}

func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
