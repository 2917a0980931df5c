// Package server is the GraphQL request pipeline: authentication,
// authorization policy, signed-query digest checks, persisted queries,
// cached parse/validation, execution and error translation.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	auth "github.com/fedgraph/fedgraph/internal/auth"
	cache "github.com/fedgraph/fedgraph/internal/cache"
	eventbus "github.com/fedgraph/fedgraph/internal/eventbus"
	events "github.com/fedgraph/fedgraph/internal/events"
	executor "github.com/fedgraph/fedgraph/internal/executor"
	language "github.com/fedgraph/fedgraph/internal/language"
	querydigest "github.com/fedgraph/fedgraph/internal/querydigest"
	reqid "github.com/fedgraph/fedgraph/internal/reqid"
	schema "github.com/fedgraph/fedgraph/internal/schema"
)

// PostHookInfo is handed to the deployment-supplied post-execution hook.
type PostHookInfo struct {
	Duration      time.Duration
	OperationName string
	Query         string
	Claims        *auth.Claims
	Variables     map[string]any
	Data          any
	Errors        []executor.GraphQLError
}

// PostHook runs after execution. Failures are logged and never affect the
// already-computed response.
type PostHook func(ctx context.Context, info PostHookInfo) error

// ForbiddenFunc is a coarse-grained deployment-level authorization
// predicate. Returning true fails the request with 403.
type ForbiddenFunc func(ctx context.Context, claims *auth.Claims) bool

// Handler is an http.Handler that serves the federated GraphQL endpoint.
type Handler struct {
	exec       *executor.Executor
	validation *language.Schema
	opt        Options

	queries   *cache.Loader[*parsedQuery]
	persisted *cache.ByteLRU
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Playground enables the in-browser IDE when true.
	Playground bool

	// Verifier resolves bearer tokens to claims. Nil means every request
	// is anonymous.
	Verifier *auth.Verifier

	// Digest verifies signed query digest tokens. Required when
	// RequireSignedQueries is set.
	Digest *querydigest.Verifier

	// RequireAuth rejects unauthenticated requests with 401.
	RequireAuth bool

	// RequireSignedQueries additionally demands a signed digest proving
	// the exact query text was registered for the caller's client id.
	// Implies RequireAuth.
	RequireSignedQueries bool

	// WhitelistedClients are client ids exempt from digest checks.
	WhitelistedClients []string

	// Forbidden is the deployment-level 403 predicate.
	Forbidden ForbiddenFunc

	// PostHook runs after execution with timing and result data.
	PostHook PostHook

	// PersistedQueryBudget bounds the persisted query cache in bytes.
	PersistedQueryBudget int64
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithPlayground(enable bool) Option { return func(o *Options) { o.Playground = enable } }
func WithVerifier(v *auth.Verifier) Option {
	return func(o *Options) { o.Verifier = v }
}
func WithDigest(d *querydigest.Verifier) Option {
	return func(o *Options) { o.Digest = d }
}
func WithRequireAuth() Option { return func(o *Options) { o.RequireAuth = true } }
func WithRequireSignedQueries() Option {
	return func(o *Options) { o.RequireSignedQueries = true }
}
func WithWhitelistedClients(ids ...string) Option {
	return func(o *Options) { o.WhitelistedClients = ids }
}
func WithForbidden(f ForbiddenFunc) Option { return func(o *Options) { o.Forbidden = f } }
func WithPostHook(h PostHook) Option       { return func(o *Options) { o.PostHook = h } }
func WithPersistedQueryBudget(n int64) Option {
	return func(o *Options) { o.PersistedQueryBudget = n }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

const defaultPersistedQueryBudget = 16 << 20

// New creates the pipeline handler. The runtime and executable schema
// drive execution; validation uses the resolved schema.
func New(runtime executor.Runtime, sch *schema.Schema, validation *language.Schema, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, Playground: true, PersistedQueryBudget: defaultPersistedQueryBudget}
	for _, f := range opts {
		f(&op)
	}
	if op.RequireSignedQueries && op.Digest == nil {
		return nil, &language.Error{Message: "signed queries required but no digest verifier configured"}
	}

	h := &Handler{
		exec:       executor.NewExecutor(runtime, sch),
		validation: validation,
		opt:        op,
		persisted:  cache.NewByteLRU(op.PersistedQueryBudget),
	}
	// Query texts are immutable, so parse results can live long. Parse
	// and validation failures are cached as values too: resubmitting a
	// broken query must not cost a reparse.
	h.queries = cache.NewLoader(func(ctx context.Context, query string) (*parsedQuery, error) {
		return h.parseAndValidate(query), nil
	}, cache.WithFreshFor(time.Hour), cache.WithStaleFor(24*time.Hour))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(nil, language.NewError("method not allowed")), h.opt.Pretty)
		return
	}

	// Serve the playground when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.Playground && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(playgroundPage)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	req, batch, ctx, berr := parseRequest(ctx, r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(nil, berr), h.opt.Pretty)
		return
	}

	// Authentication resolves fully before any authorization decision.
	ctx, httpErr := h.authenticate(ctx, r)
	if httpErr == nil {
		httpErr = h.authorize(ctx)
	}
	if httpErr != nil {
		status = httpErr.Status
		writeJSON(w, status, httpErr.payload(), h.opt.Pretty)
		return
	}

	if batch != nil {
		op := make([]any, len(batch))
		for i := range batch {
			res, httpErr := h.executeOne(ctx, r, batch[i])
			if httpErr != nil {
				status = httpErr.Status
				writeJSON(w, status, httpErr.payload(), h.opt.Pretty)
				return
			}
			// An escalation from any entry sets the batch status; the
			// strictest one wins.
			if sr, ok := res.(*specResult); ok && sr.escalate > status {
				status = sr.escalate
			}
			op[i] = res
		}
		writeJSON(w, status, op, h.opt.Pretty)
		return
	}

	res, httpErr := h.executeOne(ctx, r, req)
	if httpErr != nil {
		status = httpErr.Status
		writeJSON(w, status, httpErr.payload(), h.opt.Pretty)
		return
	}
	if r, ok := res.(*specResult); ok && r.escalate > 0 {
		status = r.escalate
	}
	writeJSON(w, status, res, h.opt.Pretty)
}

// ------------------ Response formatting ------------------

type specLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type specError struct {
	Message    string         `json:"message"`
	Locations  []specLocation `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`

	// escalate carries an HTTP status override discovered after
	// execution (authentication failures surfaced by resolvers).
	escalate int
}

func errorResponse(data any, errs ...*language.Error) *specResult {
	out := &specResult{Data: data, Errors: make([]specError, len(errs))}
	for i, e := range errs {
		se := specError{Message: e.Message, Extensions: e.Extensions}
		for _, loc := range e.Locations {
			se.Locations = append(se.Locations, specLocation{Line: loc.Line, Column: loc.Column})
		}
		out.Errors[i] = se
	}
	return out
}

func toSpecResult(res *executor.ExecutionResult) *specResult {
	out := &specResult{Data: res.Data}
	if len(res.Errors) == 0 {
		return out
	}
	out.Errors = make([]specError, len(res.Errors))
	for i, e := range res.Errors {
		se := specError{Message: e.Message, Extensions: e.Extensions}
		if len(e.Path) > 0 {
			se.Path = make([]any, len(e.Path))
			for j, pe := range e.Path {
				switch v := pe.(type) {
				case string:
					se.Path[j] = v
				case int:
					se.Path[j] = v
				default:
					se.Path[j] = toString(v)
				}
			}
		}
		out.Errors[i] = se
	}
	// Partial data alongside errors is legal in a GraphQL response; preserve it.
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func toString(v any) string { b, _ := json.Marshal(v); return string(b) }

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
