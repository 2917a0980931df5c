package language

import (
	"strings"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Error is the GraphQL-shaped error carried through the request pipeline.
type Error = gqlerror.Error

// Extension codes recognized by gateway clients.
const (
	CodePersistedQueryNotFound = "PERSISTED_QUERY_NOT_FOUND"
)

// NewError builds a plain GraphQL error with just a message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewCodedError builds a GraphQL error carrying an extensions.code value.
func NewCodedError(message, code string) *Error {
	return &Error{Message: message, Extensions: map[string]any{"code": code}}
}

// QueryError wraps parse and schema-validation failures for one query text.
// Both failure modes collapse into the same kind: the client receives the
// inner errors as a GraphQL error array with an HTTP 200.
type QueryError struct {
	Query  string
	Errors []*Error
}

func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString("failed to parse GraphQL query.")
	for _, inner := range e.Errors {
		b.WriteString("\n")
		b.WriteString(inner.Message)
	}
	b.WriteString("\n")
	b.WriteString(e.Query)
	return b.String()
}

// AsError normalizes any parser error into a *Error so it can be returned in
// a response body.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*Error); ok {
		return ge
	}
	if list, ok := err.(gqlerror.List); ok && len(list) > 0 {
		return list[0]
	}
	return &Error{Message: err.Error()}
}

// AsErrors expands an error into the list form used in responses.
func AsErrors(err error) []*Error {
	if err == nil {
		return nil
	}
	if list, ok := err.(gqlerror.List); ok {
		return list
	}
	return []*Error{AsError(err)}
}
