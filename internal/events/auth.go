package events

import "time"

// AuthStart is emitted when bearer token verification begins.
type AuthStart struct{}

// AuthFinish is emitted once the request's auth context is resolved.
// Authenticated is false for anonymous requests; Reason explains soft
// verification failures (expired signature, unknown issuer, ...).
type AuthFinish struct {
	Authenticated bool
	Issuer        string
	Subject       string
	Reason        string
	Duration      time.Duration
}

// IssuerUnknown is emitted when a token names an issuer outside the trust
// list and no default verification key is configured. This is a
// configuration/trust warning, not a request failure.
type IssuerUnknown struct {
	Issuer string
}

// ReferenceResolverCollision is emitted when a reference resolver
// registration overwrites an earlier one for the same type name.
// Last write wins.
type ReferenceResolverCollision struct {
	TypeName string
}
