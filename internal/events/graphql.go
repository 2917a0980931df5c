package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}

// PersistedQueryMiss is emitted when a hash-only request finds no cached
// query text; the client is expected to retry with the full text.
type PersistedQueryMiss struct {
	Hash string
}

// PostHookFailure is emitted when the deployment-supplied post-execution
// hook fails. The response has already been computed and is unaffected.
type PostHookFailure struct {
	Err error
}
