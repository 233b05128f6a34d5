package httpmw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/keithlinneman/tradesignals-web/internal/log"
)

// panicRecord is one Error call plus the fields bound with With before it.
type panicRecord struct {
	msg    string
	err    error
	fields map[string]any
}

// recordingLogger keeps Error calls and the With fields in scope for them.
type recordingLogger struct {
	log.Logger
	mu      *sync.Mutex
	bound   []any
	records *[]panicRecord
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{Logger: log.Nop(), mu: &sync.Mutex{}, records: &[]panicRecord{}}
}

func (l *recordingLogger) With(kv ...any) log.Logger {
	return &recordingLogger{
		Logger:  l.Logger,
		mu:      l.mu,
		bound:   append(append([]any{}, l.bound...), kv...),
		records: l.records,
	}
}

func (l *recordingLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	fields := map[string]any{}
	all := append(append([]any{}, l.bound...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			fields[k] = all[i+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, panicRecord{msg: msg, err: err, fields: fields})
}

func (l *recordingLogger) all() []panicRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]panicRecord(nil), *l.records...)
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body.Message
}

func TestRecover_PanicValues(t *testing.T) {
	sentinel := errors.New("store unavailable")

	tests := []struct {
		name    string
		value   any
		wantErr string
		wantIs  error
	}{
		{name: "string", value: "nil map write", wantErr: "panic: nil map write"},
		{name: "error", value: sentinel, wantErr: "panic: store unavailable", wantIs: sentinel},
		{name: "int", value: 42, wantErr: "panic: 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newRecordingLogger()
			h := Recover(L, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(tt.value)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/user-auth/signup", http.NoBody))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if got := decodeMessage(t, rec); got != "An internal server error occurred." {
				t.Fatalf("message = %q", got)
			}

			recs := L.all()
			if len(recs) != 1 {
				t.Fatalf("logged %d errors, want 1", len(recs))
			}
			if recs[0].err == nil || recs[0].err.Error() != tt.wantErr {
				t.Fatalf("err = %v, want %q", recs[0].err, tt.wantErr)
			}
			if tt.wantIs != nil && !errors.Is(recs[0].err, tt.wantIs) {
				t.Fatalf("logged error does not wrap %v", tt.wantIs)
			}
		})
	}
}

func TestRecover_ResponseHeaders(t *testing.T) {
	h := Recover(newRecordingLogger(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
}

func TestRecover_LogFields(t *testing.T) {
	L := newRecordingLogger()
	h := Recover(L, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/user-auth/login", http.NoBody)
	req = req.WithContext(WithRequestID(req.Context(), "req-123"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	recs := L.all()
	if len(recs) != 1 {
		t.Fatalf("logged %d errors, want 1", len(recs))
	}
	r := recs[0]
	if r.msg != "httpserver panic recovered" {
		t.Fatalf("msg = %q", r.msg)
	}
	for k, want := range map[string]string{
		"http.request.method": http.MethodPost,
		"url.path":            "/api/user-auth/login",
		"request_id":          "req-123",
	} {
		if got, _ := r.fields[k].(string); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if stack, _ := r.fields["panic_stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("panic_stack missing or empty: %q", stack)
	}
}

func TestRecover_PassThrough(t *testing.T) {
	L := newRecordingLogger()
	h := Recover(L, func() { t.Fatal("onPanic called without a panic") })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"exists"}`))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", http.NoBody))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := decodeMessage(t, rec); got != "exists" {
		t.Fatalf("message = %q", got)
	}
	if n := len(L.all()); n != 0 {
		t.Fatalf("logged %d errors without a panic", n)
	}
}

func TestRecover_OnPanicCountsEachPanic(t *testing.T) {
	var n int
	h := Recover(newRecordingLogger(), func() { n++ })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	}
	if n != 3 {
		t.Fatalf("onPanic calls = %d, want 3", n)
	}
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	L := newRecordingLogger()
	h := Recover(L, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
		if n := len(L.all()); n != 0 {
			t.Fatalf("abort logged %d errors", n)
		}
	}()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}

func TestRecover_NilLogger(t *testing.T) {
	h := Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeMessage(t, rec); got == "" {
		t.Fatal("expected message in error body")
	}
}
