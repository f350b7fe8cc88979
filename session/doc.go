// Package session orchestrates a user's login session on top of an
// oidc.Client: it owns the per-login PKCE state, persists tokens and
// identity in an injectable store, handles the redirect callback (including
// de-duplicating re-submitted authorization codes), and clears everything on
// logout.
//
// The package is host-agnostic. Browsers, CLIs and server-rendered apps
// differ only in the Store implementation they inject and in how they
// perform the actual navigation; the Manager never touches ambient state.
package session
