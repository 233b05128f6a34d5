package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tradesignals-web/internal/httpmw"
	"github.com/keithlinneman/tradesignals-web/internal/log"
	"github.com/keithlinneman/tradesignals-web/internal/ratelimit"
	"github.com/keithlinneman/tradesignals-web/internal/users"
	"github.com/keithlinneman/tradesignals-web/internal/xerrors"
)

const (
	LoginPath  = "/api/user-auth/login"
	SignupPath = "/api/user-auth/signup"
)

// Response messages. The web client matches on some of these.
const (
	MsgInvalidJSON   = "Invalid JSON in request body."
	MsgInvalidInput  = "Invalid input."
	MsgBodyTooLarge  = "Request body too large."
	MsgLoginOK       = "Login successful!"
	MsgNoAccount     = "No account found with this mobile number. Please sign up."
	MsgLoginFailed   = "Internal server error. Please try again."
	MsgSignupOK      = "Signup successful!"
	MsgAccountExists = "Account with this mobile number already exists."
	MsgSignupFailed  = "Something went wrong during signup."
)

// Outcome label values reported to Metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeNotFound = "not_found"
	OutcomeExists   = "exists"
	OutcomeError    = "error"
)

// Metrics receives one call per handled request. Throttled requests never
// reach the handlers and are counted by the limiter hooks instead.
type Metrics interface {
	IncAuthRequest(endpoint, outcome string)
}

// Handlers log through the request-scoped logger from httpmw.WithLogger.
type Options struct {
	Store users.Store

	// LoginLimiter and SignupLimiter guard their routes; nil leaves a route
	// unguarded.
	LoginLimiter  *ratelimit.Limiter
	SignupLimiter *ratelimit.Limiter

	Metrics Metrics
}

// API implements the auth endpoints.
type API struct {
	store   users.Store
	login   *ratelimit.Limiter
	signup  *ratelimit.Limiter
	metrics Metrics
}

func NewAPI(opts Options) (*API, error) {
	if opts.Store == nil {
		return nil, xerrors.New("authapi: user store is required")
	}
	return &API{
		store:   opts.Store,
		login:   opts.LoginLimiter,
		signup:  opts.SignupLimiter,
		metrics: opts.Metrics,
	}, nil
}

// RegisterRoutes mounts the endpoints. The limiter runs before the body is
// read so throttled clients cost no decoding or store lookups.
func (api *API) RegisterRoutes(r chi.Router) {
	r.With(guard("login", api.login)...).Post(LoginPath, api.HandleLogin)
	r.With(guard("signup", api.signup)...).Post(SignupPath, api.HandleSignup)
}

func guard(handler string, l *ratelimit.Limiter) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{httpmw.Scope(handler)}
	if l != nil {
		mws = append(mws, l.Middleware)
	}
	return mws
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Message      string `json:"message"`
	UserID       string `json:"userId"`
	FullName     string `json:"fullName"`
	MobileNumber string `json:"mobileNumber"`
}

type signupResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	body, ok := api.decode(ctx, w, r, "login")
	if !ok {
		return
	}
	in, fe := validateLogin(body)
	if len(fe) > 0 {
		api.rejectInvalid(ctx, w, "login", fe)
		return
	}

	u, err := api.store.FindByMobile(ctx, in.MobileNumber)
	switch {
	case errors.Is(err, users.ErrNotFound):
		L.Info(ctx, "login for unknown mobile number", "mobile", maskMobile(in.MobileNumber))
		api.observe("login", OutcomeNotFound)
		writeJSON(ctx, w, http.StatusNotFound, messageResponse{Message: MsgNoAccount})
		return
	case err != nil:
		L.Error(ctx, err, "login lookup failed")
		api.observe("login", OutcomeError)
		writeJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: MsgLoginFailed})
		return
	}

	L.Info(ctx, "login succeeded", "user_id", u.ID)
	api.observe("login", OutcomeSuccess)
	writeJSON(ctx, w, http.StatusOK, loginResponse{
		Message:      MsgLoginOK,
		UserID:       u.ID,
		FullName:     u.FullName,
		MobileNumber: u.MobileNumber,
	})
}

func (api *API) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	body, ok := api.decode(ctx, w, r, "signup")
	if !ok {
		return
	}
	in, fe := validateSignup(body)
	if len(fe) > 0 {
		api.rejectInvalid(ctx, w, "signup", fe)
		return
	}

	// new accounts are verified on creation
	u, err := api.store.Create(ctx, users.User{
		FullName:     in.FullName,
		MobileNumber: in.MobileNumber,
		IsVerified:   true,
	})
	switch {
	case errors.Is(err, users.ErrExists):
		L.Info(ctx, "signup for existing mobile number", "mobile", maskMobile(in.MobileNumber))
		api.observe("signup", OutcomeExists)
		writeJSON(ctx, w, http.StatusConflict, messageResponse{Message: MsgAccountExists})
		return
	case err != nil:
		L.Error(ctx, err, "signup create failed")
		api.observe("signup", OutcomeError)
		writeJSON(ctx, w, http.StatusInternalServerError, messageResponse{Message: MsgSignupFailed})
		return
	}

	L.Info(ctx, "signup succeeded", "user_id", u.ID)
	api.observe("signup", OutcomeSuccess)
	writeJSON(ctx, w, http.StatusOK, signupResponse{Message: MsgSignupOK, UserID: u.ID})
}

// decode reads the body as a JSON object. Anything that is not valid JSON
// gets 400 MsgInvalidJSON; valid JSON that is not an object fails
// validation with no field errors.
func (api *API) decode(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string) (map[string]json.RawMessage, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.observe(endpoint, OutcomeInvalid)
			writeJSON(ctx, w, http.StatusRequestEntityTooLarge, messageResponse{Message: MsgBodyTooLarge})
			return nil, false
		}
		log.FromContext(ctx).Warn(ctx, "reading request body failed", "error", err.Error())
		api.observe(endpoint, OutcomeInvalid)
		writeJSON(ctx, w, http.StatusBadRequest, messageResponse{Message: MsgInvalidJSON})
		return nil, false
	}

	if !json.Valid(data) {
		log.FromContext(ctx).Debug(ctx, "request body is not valid json")
		api.observe(endpoint, OutcomeInvalid)
		writeJSON(ctx, w, http.StatusBadRequest, messageResponse{Message: MsgInvalidJSON})
		return nil, false
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		api.rejectInvalid(ctx, w, endpoint, FieldErrors{})
		return nil, false
	}
	return body, true
}

func (api *API) rejectInvalid(ctx context.Context, w http.ResponseWriter, endpoint string, fe FieldErrors) {
	log.FromContext(ctx).Debug(ctx, "request validation failed", "fields", fieldNames(fe))
	api.observe(endpoint, OutcomeInvalid)
	// errors is always present on validation failures, even when empty
	writeJSON(ctx, w, http.StatusBadRequest, struct {
		Message string      `json:"message"`
		Errors  FieldErrors `json:"errors"`
	}{MsgInvalidInput, fe})
}

func (api *API) observe(endpoint, outcome string) {
	if api.metrics != nil {
		api.metrics.IncAuthRequest(endpoint, outcome)
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "writing json response failed", "error", err.Error())
	}
}

func fieldNames(fe FieldErrors) []string {
	out := make([]string, 0, len(fe))
	for k := range fe {
		out = append(out, k)
	}
	return out
}

// maskMobile keeps the last four digits for log correlation.
func maskMobile(m string) string {
	if len(m) <= 4 {
		return "****"
	}
	return "******" + m[len(m)-4:]
}
