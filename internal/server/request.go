package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	language "github.com/fedgraph/fedgraph/internal/language"
)

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

const errBodyTooLargeMessage = "body too large"

func parseRequest(ctx context.Context, r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, context.Context, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, ctx, language.NewError("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, ctx, language.NewError("invalid 'variables' JSON")
			}
		}
		exts := map[string]any{}
		if v := r.URL.Query().Get("extensions"); v != "" {
			if err := json.Unmarshal([]byte(v), &exts); err != nil {
				return GraphQLRequest{}, nil, ctx, language.NewError("invalid 'extensions' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op, Extensions: exts}, nil, ctx, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	switch {
	case ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;"):
		req, batch, err := parseJSONBody(r, maxBody)
		return req, batch, ctx, err
	case strings.HasPrefix(ct, "multipart/form-data"):
		return parseMultipartBody(ctx, r, maxBody)
	default:
		return GraphQLRequest{}, nil, ctx, language.NewError("unsupported Content-Type")
	}
}

func parseJSONBody(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *language.Error) {
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, language.NewError("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, language.NewError(errBodyTooLargeMessage)
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, language.NewError("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, language.NewError("empty batch")
		}
		return GraphQLRequest{}, arr, nil
	}
	// Single
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, language.NewError("invalid JSON")
	}
	return normalizeRequest(req), nil, nil
}

// parseMultipartBody handles the upload form: the first part is the JSON
// request body, every following part is a file stream resolvers pull
// lazily through the Files sequence on the context.
func parseMultipartBody(ctx context.Context, r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, context.Context, *language.Error) {
	if maxBody > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return GraphQLRequest{}, nil, ctx, language.NewError("invalid multipart body")
	}

	first, err := mr.NextPart()
	if err != nil {
		return GraphQLRequest{}, nil, ctx, language.NewError("multipart body has no parts")
	}
	var req GraphQLRequest
	if err := json.NewDecoder(first).Decode(&req); err != nil {
		return GraphQLRequest{}, nil, ctx, language.NewError("invalid JSON in first multipart part")
	}

	ctx = NewFilesContext(ctx, newFiles(mr))
	return normalizeRequest(req), nil, ctx, nil
}

func normalizeRequest(req GraphQLRequest) GraphQLRequest {
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	if req.Extensions == nil {
		req.Extensions = map[string]any{}
	}
	return req
}
