// Package oidc implements the relying-party side of an OpenID Connect
// authorization code flow with PKCE, plus local validation of the tokens the
// provider issues.
//
// Primary types provided by the package:
//
// * Config: the relying party configuration (client id/secret, issuer,
// supported signing algorithms, ACR level ordering, optional id_token
// decryption key, etc).
//
// * Client: the operation surface composing discovery, authorization URL
// assembly, code/refresh exchanges, token verification, userinfo and profile
// requests, and logout URL construction. A Client caches the provider's
// discovery document and key set for its lifetime.
//
// * TokenBundle: the token response from a successful exchange (access,
// id and optional refresh token).
//
// * AccessTokenInfo: the result of validating an access token locally,
// carrying the verified subject, scopes, permissions and ACR level.
//
// * IdentityClaims: the decoded identity of the authenticated user,
// including an open bag of provider-defined custom claims.
//
// * CodeVerifier: the per-login PKCE secret and its derived challenge.
//
// The session package builds a login/callback/logout orchestrator on top of
// Client, and the authn package provides the generic "authenticate a
// request" contract host middlewares are built from.
package oidc
