package limitsource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/tradesignals-web/internal/ratelimit"
)

const testParam = "/tradesignals/web/limits"

type fakeSSM struct {
	mu      sync.Mutex
	value   *string
	version int64
	err     error
	calls   int
	lastIn  *ssm.GetParameterInput
}

func ssmWithValue(v string, version int64) *fakeSSM {
	return &fakeSSM{value: aws.String(v), version: version}
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &types.Parameter{Name: in.Name, Value: f.value, Version: f.version},
	}, nil
}

func (f *fakeSSM) set(v string, version int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = aws.String(v)
	f.version = version
	f.err = nil
}

func (f *fakeSSM) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestSource(t *testing.T, f *fakeSSM) *Source {
	t.Helper()
	s, err := New(context.Background(), Options{Param: testParam, Client: f})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestParse(t *testing.T) {
	limits, err := Parse([]byte(`{"login":{"limit":5,"windowMs":300000},"signup":{"limit":3,"windowMs":600000}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := Limits{
		"login":  {Limit: 5, Window: 5 * time.Minute},
		"signup": {Limit: 3, Window: 10 * time.Minute},
	}
	if len(limits) != len(want) {
		t.Fatalf("limits = %v, want %v", limits, want)
	}
	for name, p := range want {
		if limits[name] != p {
			t.Fatalf("%s = %+v, want %+v", name, limits[name], p)
		}
	}
	if names := limits.Names(); strings.Join(names, ",") != "login,signup" {
		t.Fatalf("Names = %v", names)
	}
}

func TestParse_PartialDocument(t *testing.T) {
	limits, err := Parse([]byte(`{"signup":{"limit":10,"windowMs":1000}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := limits["login"]; ok {
		t.Fatal("login should be absent")
	}
	if limits["signup"] != (ratelimit.Policy{Limit: 10, Window: time.Second}) {
		t.Fatalf("signup = %+v", limits["signup"])
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "not json", doc: `limit=5`, want: "decode"},
		{name: "null", doc: `null`, want: "JSON object"},
		{name: "array", doc: `[1,2]`, want: "decode"},
		{name: "unknown field", doc: `{"login":{"limit":5,"window":300000}}`, want: "unknown field"},
		{name: "zero limit", doc: `{"login":{"limit":0,"windowMs":300000}}`, want: `route "login"`},
		{name: "negative window", doc: `{"login":{"limit":5,"windowMs":-1}}`, want: "window"},
		{name: "missing window", doc: `{"signup":{"limit":3}}`, want: `route "signup"`},
		{name: "empty route name", doc: `{"":{"limit":3,"windowMs":1000}}`, want: "route name"},
		{name: "one bad entry rejects all", doc: `{"login":{"limit":5,"windowMs":300000},"signup":{"limit":-1,"windowMs":1}}`, want: `route "signup"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatalf("expected error, got %v", limits)
			}
			if limits != nil {
				t.Fatal("limits returned alongside error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestNew_RequiresParam(t *testing.T) {
	if _, err := New(context.Background(), Options{Param: "  ", Client: &fakeSSM{}}); err == nil {
		t.Fatal("expected error for empty param")
	}
}

func TestFetch(t *testing.T) {
	f := ssmWithValue(`{"login":{"limit":7,"windowMs":60000}}`, 4)
	s := newTestSource(t, f)

	limits, version, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if version != 4 {
		t.Fatalf("version = %d, want 4", version)
	}
	if limits["login"] != (ratelimit.Policy{Limit: 7, Window: time.Minute}) {
		t.Fatalf("login = %+v", limits["login"])
	}
	if got := aws.ToString(f.lastIn.Name); got != testParam {
		t.Fatalf("requested param = %q", got)
	}
	if !aws.ToBool(f.lastIn.WithDecryption) {
		t.Fatal("parameter should be read with decryption")
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name string
		f    *fakeSSM
		want string
	}{
		{name: "api error", f: &fakeSSM{err: errors.New("AccessDenied")}, want: "AccessDenied"},
		{name: "no value", f: &fakeSSM{}, want: "has no value"},
		{name: "bad document", f: ssmWithValue(`{"login":{"limit":0,"windowMs":1}}`, 1), want: "limit must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestSource(t, tt.f).Fetch(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.want)
			}
			if !strings.Contains(err.Error(), testParam) {
				t.Fatalf("err = %v, want it to name the parameter", err)
			}
		})
	}
}
