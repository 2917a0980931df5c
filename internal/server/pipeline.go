package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	auth "github.com/fedgraph/fedgraph/internal/auth"
	eventbus "github.com/fedgraph/fedgraph/internal/eventbus"
	events "github.com/fedgraph/fedgraph/internal/events"
	executor "github.com/fedgraph/fedgraph/internal/executor"
	language "github.com/fedgraph/fedgraph/internal/language"
	querydigest "github.com/fedgraph/fedgraph/internal/querydigest"
)

// HTTPError is a pipeline failure that maps to a definite HTTP status.
type HTTPError struct {
	Status     int
	Message    string
	Extensions map[string]any
}

func (e *HTTPError) Error() string { return e.Message }

func (e *HTTPError) payload() *specResult {
	return errorResponse(nil, &language.Error{Message: e.Message, Extensions: e.Extensions})
}

func unauthenticatedError() *HTTPError {
	return &HTTPError{
		Status:     http.StatusUnauthorized,
		Message:    "request requires authentication with client service",
		Extensions: map[string]any{"authenticationError": true},
	}
}

type claimsKey struct{}

// NewClaimsContext attaches verified claims to the context.
func NewClaimsContext(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the request's verified claims, or nil for an
// anonymous request.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

// authenticate resolves the bearer token, if any, to claims on the
// context. Verification failure is not a request failure here: the
// request continues anonymously and the policy check decides.
func (h *Handler) authenticate(ctx context.Context, r *http.Request) (context.Context, *HTTPError) {
	if h.opt.Verifier == nil {
		return ctx, nil
	}

	start := time.Now()
	eventbus.Publish(ctx, events.AuthStart{})

	token := bearerToken(r)
	finish := events.AuthFinish{}
	if token != "" {
		claims, err := h.opt.Verifier.Verify(ctx, token)
		if err != nil {
			// Bad and expired tokens are expected traffic.
			finish.Reason = err.Error()
		} else {
			finish.Authenticated = true
			finish.Issuer = claims.Issuer
			finish.Subject = claims.Subject
			ctx = NewClaimsContext(ctx, claims)
		}
	}
	finish.Duration = time.Since(start)
	eventbus.Publish(ctx, finish)
	return ctx, nil
}

// authorize applies the deployment policy once identity is resolved.
func (h *Handler) authorize(ctx context.Context) *HTTPError {
	claims := ClaimsFromContext(ctx)
	if (h.opt.RequireAuth || h.opt.RequireSignedQueries) && claims == nil {
		return unauthenticatedError()
	}
	if h.opt.Forbidden != nil && h.opt.Forbidden(ctx, claims) {
		return &HTTPError{Status: http.StatusForbidden, Message: "request is not allowed"}
	}
	return nil
}

// checkDigest enforces the signed-query requirement for one request.
func (h *Handler) checkDigest(ctx context.Context, r *http.Request, req GraphQLRequest) *HTTPError {
	if !h.opt.RequireSignedQueries {
		return nil
	}
	claims := ClaimsFromContext(ctx)
	clientID := ""
	if claims != nil {
		clientID = claims.ClientID
	}
	if contains(h.opt.WhitelistedClients, clientID) {
		return nil
	}
	if clientID == "" {
		return unauthenticatedError()
	}

	token := digestToken(r, req)
	if token == "" {
		return &HTTPError{Status: http.StatusBadRequest, Message: "request requires signed query digest"}
	}
	switch err := h.opt.Digest.Matches(token, clientID, req.Query); {
	case err == nil:
		return nil
	case errors.Is(err, querydigest.ErrNoDigest):
		return &HTTPError{Status: http.StatusBadRequest, Message: "request requires signed query digest"}
	default:
		return &HTTPError{Status: http.StatusBadRequest, Message: "request contains a mismatched client service or query"}
	}
}

// resolvePersistedQuery fills in req.Query from the persisted-query cache
// when the request arrives hash-only, and registers new hash/query pairs.
// A cache miss is a GraphQL-shaped payload, not an HTTP error: clients
// fall back to resending the full text.
func (h *Handler) resolvePersistedQuery(ctx context.Context, req *GraphQLRequest) (*specResult, *HTTPError) {
	hash := persistedQueryHash(*req)
	if hash == "" {
		if req.Query == "" {
			return nil, &HTTPError{Status: http.StatusBadRequest, Message: "missing 'query'"}
		}
		return nil, nil
	}

	if req.Query != "" {
		sum := sha256.Sum256([]byte(req.Query))
		if hex.EncodeToString(sum[:]) != hash {
			return nil, &HTTPError{Status: http.StatusBadRequest, Message: "provided sha does not match query"}
		}
		h.persisted.Set(hash, req.Query)
		return nil, nil
	}

	query, ok := h.persisted.Get(hash)
	if !ok {
		eventbus.Publish(ctx, events.PersistedQueryMiss{Hash: hash})
		return errorResponse(nil, language.NewCodedError("PersistedQueryNotFound", language.CodePersistedQueryNotFound)), nil
	}
	req.Query = query
	return nil, nil
}

// parsedQuery is the cached outcome of parsing and validating one query
// text. Failures are part of the value: both parse and validation errors
// collapse into a single error kind answered with HTTP 200.
type parsedQuery struct {
	doc      *language.QueryDocument
	queryErr *language.QueryError
}

func (h *Handler) parseAndValidate(query string) *parsedQuery {
	doc, err := language.ParseQuery(query)
	if err != nil {
		return &parsedQuery{queryErr: &language.QueryError{Query: query, Errors: language.AsErrors(err)}}
	}
	if errs := language.ValidateQuery(h.validation, doc); len(errs) > 0 {
		return &parsedQuery{queryErr: &language.QueryError{Query: query, Errors: errs}}
	}
	return &parsedQuery{doc: doc}
}

func queryErrorResponse(qe *language.QueryError) *specResult {
	out := make([]*language.Error, len(qe.Errors))
	for i, inner := range qe.Errors {
		out[i] = &language.Error{
			Message:    inner.Message,
			Locations:  inner.Locations,
			Extensions: map[string]any{"code": "GRAPHQL_VALIDATION_FAILED"},
		}
	}
	return errorResponse(nil, out...)
}

// executeOne runs the per-request pipeline stages that follow the
// HTTP-level auth checks.
func (h *Handler) executeOne(ctx context.Context, r *http.Request, req GraphQLRequest) (any, *HTTPError) {
	if httpErr := h.checkDigest(ctx, r, req); httpErr != nil {
		return nil, httpErr
	}
	if miss, httpErr := h.resolvePersistedQuery(ctx, &req); httpErr != nil {
		return nil, httpErr
	} else if miss != nil {
		return miss, nil
	}

	parsed, err := h.queries.Get(ctx, req.Query)
	if err != nil {
		return nil, &HTTPError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	if parsed.queryErr != nil {
		return queryErrorResponse(parsed.queryErr), nil
	}
	doc := parsed.doc

	opDef := doc.Operations.ForName(req.OperationName)
	if opDef == nil && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	opType := ""
	if opDef != nil {
		opType = string(opDef.Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	duration := time.Since(start)

	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      duration,
	})

	h.runPostHook(ctx, PostHookInfo{
		Duration:      duration,
		OperationName: req.OperationName,
		Query:         req.Query,
		Claims:        ClaimsFromContext(ctx),
		Variables:     req.Variables,
		Data:          result.Data,
		Errors:        result.Errors,
	})

	out := toSpecResult(result)
	if status := escalatedStatus(result.Errors); status > 0 {
		out.escalate = status
		for i := range out.Errors {
			if out.Errors[i].Extensions == nil {
				out.Errors[i].Extensions = map[string]any{}
			}
			out.Errors[i].Extensions["authenticationError"] = true
		}
	}
	return out, nil
}

func (h *Handler) runPostHook(ctx context.Context, info PostHookInfo) {
	if h.opt.PostHook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			eventbus.Publish(ctx, events.PostHookFailure{Err: &language.Error{Message: "post hook panicked"}})
		}
	}()
	if err := h.opt.PostHook(ctx, info); err != nil {
		eventbus.Publish(ctx, events.PostHookFailure{Err: err})
	}
}

// escalatedStatus maps resolver-raised authentication failures onto 401:
// downstream services report "not allowed" through execution errors, and
// gateways expect the HTTP status to say so.
func escalatedStatus(errs []executor.GraphQLError) int {
	for _, e := range errs {
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "unauthenticated") ||
			strings.Contains(msg, "authentication") ||
			strings.Contains(msg, "not authorized") {
			return http.StatusUnauthorized
		}
	}
	return 0
}

// bearerToken extracts the bearer token, scheme case-insensitive.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// digestToken reads the signed digest token from the X-Query-Digest
// header or the querySignature extension.
func digestToken(r *http.Request, req GraphQLRequest) string {
	if token := r.Header.Get("X-Query-Digest"); token != "" {
		return token
	}
	if sig, ok := req.Extensions["querySignature"].(string); ok {
		return sig
	}
	return ""
}

func persistedQueryHash(req GraphQLRequest) string {
	pq, ok := req.Extensions["persistedQuery"].(map[string]any)
	if !ok {
		return ""
	}
	hash, _ := pq["sha256Hash"].(string)
	return hash
}
