// Package authn provides the environment-agnostic "authenticate a request"
// contract every host adapter builds on. A host supplies a TokenExtractor
// for its own request shape (an *http.Request, an edge-runtime request
// object, a gRPC metadata bag) and gets back a single function that
// extracts, validates and resolves the caller's identity.
//
// This is the one place the fine-grained validation errors collapse into
// unauthorized vs forbidden; the underlying cause remains reachable with
// errors.Is for hosts that log it.
package authn
