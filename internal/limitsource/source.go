package limitsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/tradesignals-web/internal/ratelimit"
	"github.com/keithlinneman/tradesignals-web/internal/xerrors"
)

// ParameterGetter is the slice of the SSM API the Source needs. *ssm.Client satisfies it.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Limits maps a route name to its policy.
type Limits map[string]ratelimit.Policy

// Names returns the route names in sorted order.
func (l Limits) Names() []string {
	out := make([]string, 0, len(l))
	for k := range l {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type routeLimit struct {
	Limit    int   `json:"limit"`
	WindowMs int64 `json:"windowMs"`
}

// Parse decodes and validates an overrides document.
func Parse(data []byte) (Limits, error) {
	var doc map[string]routeLimit
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, xerrors.Wrap(err, "decode limits document")
	}
	if doc == nil {
		return nil, xerrors.New("limits document must be a JSON object")
	}

	out := make(Limits, len(doc))
	var errs []error
	for name, rl := range doc {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, xerrors.New("route name must not be empty"))
			continue
		}
		p := ratelimit.Policy{Limit: rl.Limit, Window: time.Duration(rl.WindowMs) * time.Millisecond}
		if err := p.Validate(); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "route %q", name))
			continue
		}
		out[name] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

type Options struct {
	// SSM parameter name holding the overrides document
	Param string

	// Client overrides the SSM client, used by tests
	Client ParameterGetter

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// Source fetches the overrides document from SSM.
type Source struct {
	param  string
	client ParameterGetter
}

func New(ctx context.Context, opts Options) (*Source, error) {
	if strings.TrimSpace(opts.Param) == "" {
		return nil, xerrors.New("limitsource: Param is required")
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = ssm.NewFromConfig(awsCfg)
	}

	return &Source{param: opts.Param, client: client}, nil
}

func (s *Source) Param() string { return s.param }

// Fetch reads and parses the parameter. version is the SSM parameter
// version, used by the Watcher to skip unchanged documents.
func (s *Source) Fetch(ctx context.Context) (limits Limits, version int64, err error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, xerrors.Wrapf(err, "get SSM parameter %s", s.param)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return nil, 0, xerrors.Newf("SSM parameter %s has no value", s.param)
	}

	limits, err = Parse([]byte(*out.Parameter.Value))
	if err != nil {
		return nil, 0, xerrors.Wrapf(err, "SSM parameter %s", s.param)
	}
	return limits, out.Parameter.Version, nil
}
