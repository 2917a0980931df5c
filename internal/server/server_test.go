package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	auth "github.com/fedgraph/fedgraph/internal/auth"
	federation "github.com/fedgraph/fedgraph/internal/federation"
	introspection "github.com/fedgraph/fedgraph/internal/introspection"
	querydigest "github.com/fedgraph/fedgraph/internal/querydigest"
	resolve "github.com/fedgraph/fedgraph/internal/resolve"
)

const testSDL = `
type Book @key(fields: "id") {
	id: ID!
	title: String!
}

type Query {
	book(id: ID!): Book
	whoami: String
	secret: String
	upload(info: _Any): String
}
`

func testRegistry(t *testing.T) *resolve.Registry {
	t.Helper()
	reg := resolve.NewRegistry()
	reg.Field("Query", "book", func(ctx context.Context, source any, args map[string]any) (any, error) {
		return map[string]any{"id": args["id"], "title": "Dune"}, nil
	})
	reg.Field("Query", "whoami", func(ctx context.Context, source any, args map[string]any) (any, error) {
		if claims := ClaimsFromContext(ctx); claims != nil {
			return claims.Subject, nil
		}
		return "anonymous", nil
	})
	reg.Field("Query", "secret", func(ctx context.Context, source any, args map[string]any) (any, error) {
		return nil, errors.New("unauthenticated: no session")
	})
	reg.Field("Query", "upload", func(ctx context.Context, source any, args map[string]any) (any, error) {
		info, ok := AsUploadInfo(args["info"])
		if !ok {
			return nil, errors.New("info is not an upload reference")
		}
		files := FilesFromContext(ctx)
		if files == nil {
			return nil, errors.New("no files in request")
		}
		for {
			f, err := files.Next()
			if err != nil {
				return nil, fmt.Errorf("part %d not found", info.MultipartIndex)
			}
			if f.MultipartIndex != info.MultipartIndex {
				continue
			}
			content, err := io.ReadAll(f.Reader)
			if err != nil {
				return nil, err
			}
			return string(content), nil
		}
	})
	reg.Reference("Book", func(ctx context.Context, rep map[string]any) (any, error) {
		return map[string]any{"id": rep["id"], "title": "Dune"}, nil
	})
	return reg
}

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	reg := testRegistry(t)
	composed, err := federation.Compose(testSDL, reg)
	require.NoError(t, err)
	h, err := New(resolve.NewRuntime(reg), composed.Schema, composed.Validation, opts...)
	require.NoError(t, err)
	return h
}

func postJSON(t *testing.T, h *Handler, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func firstError(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	errs, ok := body["errors"].([]any)
	require.True(t, ok, "expected errors in %v", body)
	require.NotEmpty(t, errs)
	return errs[0].(map[string]any)
}

func testAuthVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(auth.WithIssuers(auth.Issuer{Iss: "https://idp.example", Secret: "test-secret"}))
	require.NoError(t, err)
	return v
}

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	claims["iss"] = "https://idp.example"
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestQueryExecution(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{"query": `{ book(id: "1") { id title } }`}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, map[string]any{
		"book": map[string]any{"id": "1", "title": "Dune"},
	}, body["data"])
	require.NotContains(t, body, "errors")
}

func TestGETQueryExecution(t *testing.T) {
	h := newTestHandler(t)
	r := httptest.NewRequest(http.MethodGet, "/graphql?query="+
		"%7B%20whoami%20%7D", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, map[string]any{"whoami": "anonymous"}, body["data"])
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	r := httptest.NewRequest(http.MethodDelete, "/graphql", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestParseErrorReturnsGraphQLShapedErrors(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{"query": `{ book(`}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	e := firstError(t, decodeBody(t, w))
	ext := e["extensions"].(map[string]any)
	require.Equal(t, "GRAPHQL_VALIDATION_FAILED", ext["code"])
}

func TestValidationErrorSameKindAsParseError(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{"query": `{ nonexistentField }`}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	e := firstError(t, decodeBody(t, w))
	ext := e["extensions"].(map[string]any)
	require.Equal(t, "GRAPHQL_VALIDATION_FAILED", ext["code"])
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	h := newTestHandler(t, WithVerifier(testAuthVerifier(t)), WithRequireAuth())
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	e := firstError(t, decodeBody(t, w))
	require.Equal(t, "request requires authentication with client service", e["message"])
	ext := e["extensions"].(map[string]any)
	require.Equal(t, true, ext["authenticationError"])
}

func TestRequireAuthAcceptsVerifiedToken(t *testing.T) {
	h := newTestHandler(t, WithVerifier(testAuthVerifier(t)), WithRequireAuth())
	token := signTestToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, map[string]any{"whoami": "user-1"}, body["data"])
}

func TestBearerSchemeIsCaseInsensitive(t *testing.T) {
	h := newTestHandler(t, WithVerifier(testAuthVerifier(t)), WithRequireAuth())
	token := signTestToken(t, jwt.MapClaims{"sub": "user-1"})
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, map[string]string{
		"Authorization": "bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInvalidTokenTreatedAsAnonymous(t *testing.T) {
	h := newTestHandler(t, WithVerifier(testAuthVerifier(t)), WithRequireAuth())
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForbiddenPredicate(t *testing.T) {
	h := newTestHandler(t,
		WithVerifier(testAuthVerifier(t)),
		WithForbidden(func(ctx context.Context, claims *auth.Claims) bool { return true }),
	)
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestExecutionErrorEscalatesToUnauthorized(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{"query": `{ secret }`}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	e := firstError(t, decodeBody(t, w))
	ext := e["extensions"].(map[string]any)
	require.Equal(t, true, ext["authenticationError"])
}

func TestPostHookFailureDoesNotAffectResponse(t *testing.T) {
	var hooked PostHookInfo
	h := newTestHandler(t, WithPostHook(func(ctx context.Context, info PostHookInfo) error {
		hooked = info
		return errors.New("hook exploded")
	}))
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`, "operationName": ""}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, map[string]any{"whoami": "anonymous"}, body["data"])
	require.Equal(t, `{ whoami }`, hooked.Query)
	require.NotZero(t, hooked.Duration)
}

// ------------------ Signed query digests ------------------

func digestKeys(t *testing.T) (publicPEM, privatePEM []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
}

func signedQueryHandler(t *testing.T, publicPEM []byte, extra ...Option) *Handler {
	t.Helper()
	dv, err := querydigest.NewVerifier(publicPEM)
	require.NoError(t, err)
	opts := append([]Option{
		WithVerifier(testAuthVerifier(t)),
		WithDigest(dv),
		WithRequireSignedQueries(),
	}, extra...)
	return newTestHandler(t, opts...)
}

func TestSignedQueryMatrix(t *testing.T) {
	publicPEM, privatePEM := digestKeys(t)
	h := signedQueryHandler(t, publicPEM)

	const query = `{ whoami }`
	clientToken := signTestToken(t, jwt.MapClaims{"sub": "svc", "client_id": "svcA"})
	digest, err := querydigest.Sign(privatePEM, "svcA", query)
	require.NoError(t, err)

	t.Run("no auth at all", func(t *testing.T) {
		w := postJSON(t, h, map[string]any{"query": query}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("no digest token", func(t *testing.T) {
		w := postJSON(t, h, map[string]any{"query": query}, map[string]string{
			"Authorization": "Bearer " + clientToken,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		e := firstError(t, decodeBody(t, w))
		require.Equal(t, "request requires signed query digest", e["message"])
	})

	t.Run("digest over a different query", func(t *testing.T) {
		w := postJSON(t, h, map[string]any{"query": `{ book(id: "1") { id } }`}, map[string]string{
			"Authorization":  "Bearer " + clientToken,
			"X-Query-Digest": digest,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		e := firstError(t, decodeBody(t, w))
		require.Equal(t, "request contains a mismatched client service or query", e["message"])
	})

	t.Run("matching digest", func(t *testing.T) {
		w := postJSON(t, h, map[string]any{"query": query}, map[string]string{
			"Authorization":  "Bearer " + clientToken,
			"X-Query-Digest": digest,
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		require.Equal(t, map[string]any{"whoami": "svc"}, body["data"])
	})

	t.Run("digest via extensions", func(t *testing.T) {
		w := postJSON(t, h, map[string]any{
			"query":      query,
			"extensions": map[string]any{"querySignature": digest},
		}, map[string]string{
			"Authorization": "Bearer " + clientToken,
		})
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSignedQueryClientWithoutClientID(t *testing.T) {
	publicPEM, _ := digestKeys(t)
	h := signedQueryHandler(t, publicPEM)
	token := signTestToken(t, jwt.MapClaims{"sub": "user-1"})
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignedQueryWhitelistSkipsDigestCheck(t *testing.T) {
	publicPEM, _ := digestKeys(t)
	h := signedQueryHandler(t, publicPEM, WithWhitelistedClients("trusted"))
	token := signTestToken(t, jwt.MapClaims{"sub": "svc", "client_id": "trusted"})
	w := postJSON(t, h, map[string]any{"query": `{ whoami }`}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
}

// ------------------ Persisted queries ------------------

func persistedQueryExt(query string) map[string]any {
	sum := sha256.Sum256([]byte(query))
	return map[string]any{
		"persistedQuery": map[string]any{
			"version":    1,
			"sha256Hash": hex.EncodeToString(sum[:]),
		},
	}
}

func TestPersistedQueryRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	const query = `{ whoami }`
	ext := persistedQueryExt(query)

	// Register with full text.
	w := postJSON(t, h, map[string]any{"query": query, "extensions": ext}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"whoami": "anonymous"}, decodeBody(t, w)["data"])

	// Hash-only replay.
	w = postJSON(t, h, map[string]any{"extensions": ext}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"whoami": "anonymous"}, decodeBody(t, w)["data"])
}

func TestPersistedQueryNotFound(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{"extensions": persistedQueryExt(`{ neverRegistered }`)}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	e := firstError(t, decodeBody(t, w))
	require.Equal(t, "PersistedQueryNotFound", e["message"])
	ext := e["extensions"].(map[string]any)
	require.Equal(t, "PERSISTED_QUERY_NOT_FOUND", ext["code"])
}

func TestPersistedQueryHashMismatch(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{
		"query":      `{ whoami }`,
		"extensions": persistedQueryExt(`{ somethingElse }`),
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	e := firstError(t, decodeBody(t, w))
	require.Equal(t, "provided sha does not match query", e["message"])
}

func TestMissingQueryAndHash(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

// ------------------ Multipart ------------------

func TestMultipartUpload(t *testing.T) {
	h := newTestHandler(t)

	operations := map[string]any{
		"query": `query ($info: _Any) { upload(info: $info) }`,
		"variables": map[string]any{
			"info": map[string]any{
				"_type":          "UploadInfo",
				"multipartIndex": 1,
				"name":           "notes.txt",
				"mime":           "text/plain",
				"size":           12,
			},
		},
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	opPart, err := mw.CreateFormField("operations")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(opPart).Encode(operations))
	filePart, err := mw.CreateFormFile("file1", "notes.txt")
	require.NoError(t, err)
	_, err = filePart.Write([]byte("hello upload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/graphql", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, map[string]any{"upload": "hello upload"}, body["data"])
}

func TestBatchRequests(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, []any{
		map[string]any{"query": `{ whoami }`},
		map[string]any{"query": `{ book(id: "2") { id } }`},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, map[string]any{"whoami": "anonymous"}, out[0]["data"])
	require.Equal(t, map[string]any{"book": map[string]any{"id": "2"}}, out[1]["data"])
}

func TestBatchEscalatesAuthenticationFailure(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, []any{
		map[string]any{"query": `{ whoami }`},
		map[string]any{"query": `{ secret }`},
	}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, map[string]any{"whoami": "anonymous"}, out[0]["data"])
	errs := out[1]["errors"].([]any)
	require.NotEmpty(t, errs)
	ext := errs[0].(map[string]any)["extensions"].(map[string]any)
	require.Equal(t, true, ext["authenticationError"])
}

func TestIntrospectionThroughPipeline(t *testing.T) {
	reg := testRegistry(t)
	composed, err := federation.Compose(testSDL, reg)
	require.NoError(t, err)
	wrapped := introspection.Wrap(resolve.NewRuntime(reg), composed.Schema)
	h, err := New(wrapped.Runtime, wrapped.Schema, composed.Validation)
	require.NoError(t, err)

	w := postJSON(t, h, map[string]any{"query": `{ __schema { queryType { name } } }`}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.NotContains(t, body, "errors")
	qt := body["data"].(map[string]any)["__schema"].(map[string]any)["queryType"].(map[string]any)
	require.Equal(t, "Query", qt["name"])
}

func TestPlaygroundServedOnHTMLAccept(t *testing.T) {
	h := newTestHandler(t)
	r := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	r.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "GraphiQL")
}

func TestBodyTooLarge(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(16))
	payload := map[string]any{"query": strings.Repeat("{ whoami }", 10)}
	w := postJSON(t, h, payload, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
