package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tenantry/authkit/internal/strutils"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local server that stands in for the identity provider,
// which makes writing tests much easier: it serves discovery, JWKS, the
// authorize/token/userinfo endpoints, and the profile API, issuing tokens
// signed with a throwaway ECDSA key.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedRefreshToken string
	allowedRedirectURIs  []string
	replySubject         string
	replyUserinfo        map[string]interface{}
	replyScope           string
	replyACR             string
	replyPermissions     []string
	customClaims         map[string]interface{}
	omitIDToken          bool
	omitHashClaims       bool
	disableUserInfo      bool
	discoveryFailStatus  int
	apiFailStatus        int

	discoveryCount int
	jwksCount      int
	tokenCount     int
	userinfoCount  int

	tokenGate chan struct{}

	lastTokenForm url.Values
	lastAPIBody   map[string]interface{}
	lastAPIPath   string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port. Its
// TLS CA pem is available from CACert() for the client config.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		replySubject: "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"sub":   "alice@example.com",
			"email": "alice@example.com",
			"tid":   "t_default",
		},
		replyScope:       "openid profile",
		replyACR:         "1",
		replyPermissions: []string{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = TestJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver, which doubles as its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// ClientConfig returns a Config wired to this test provider: issuer, CA and
// ES256 signing.
func (p *TestProvider) ClientConfig(t *testing.T, clientID string, opt ...Option) *Config {
	t.Helper()
	opts := append([]Option{
		WithSupportedAlgs(ES256),
		WithProviderCA(p.caCert),
	}, opt...)
	c, err := NewConfig(p.Addr(), clientID, opts...)
	require.NoError(t, err)
	return c
}

// SetClientCreds is for configuring the client information required for the
// token exchanges.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code returned from /authorize and
// the only code /token will accept.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedRefreshToken configures the only refresh token /token will
// accept.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetAllowedRedirectURIs configures the allowed redirect URIs.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetReplySubject configures the sub claim of issued tokens.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetReplyUserinfo configures the claims returned from /userinfo.
func (p *TestProvider) SetReplyUserinfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetReplyAccessTokenClaims configures the scope, acr and permissions claims
// of issued access tokens.
func (p *TestProvider) SetReplyAccessTokenClaims(scope, acr string, permissions []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyScope = scope
	p.replyACR = acr
	p.replyPermissions = permissions
}

// SetCustomClaims lets you set additional claims to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// OmitIDTokens forces an error state where the /token endpoint does not
// return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitHashClaims issues id_tokens without c_hash/at_hash claims.
func (p *TestProvider) OmitHashClaims() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitHashClaims = true
}

// DisableUserInfo makes the userinfo endpoint return 404.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetDiscoveryFailStatus makes the discovery endpoint fail with the given
// status until reset with 0.
func (p *TestProvider) SetDiscoveryFailStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryFailStatus = status
}

// SetAPIFailStatus makes the profile API endpoints fail with the given
// status until reset with 0.
func (p *TestProvider) SetAPIFailStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiFailStatus = status
}

// HoldTokenExchanges makes /token block until the returned release func is
// called, so tests can keep an exchange in flight deterministically.
func (p *TestProvider) HoldTokenExchanges() (release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.tokenGate = gate
	return func() { close(gate) }
}

// DiscoveryCount returns how many discovery documents were served.
func (p *TestProvider) DiscoveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryCount
}

// JWKSCount returns how many key sets were served.
func (p *TestProvider) JWKSCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksCount
}

// TokenCount returns how many token exchanges were served.
func (p *TestProvider) TokenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCount
}

// UserinfoCount returns how many userinfo requests were served.
func (p *TestProvider) UserinfoCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfoCount
}

// LastTokenForm returns the form values of the most recent token exchange.
func (p *TestProvider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// LastAPIRequest returns the path and JSON body of the most recent profile
// API request.
func (p *TestProvider) LastAPIRequest() (path string, body map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAPIPath, p.lastAPIBody
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	p.writeJSON(w, &body)
}

// issueTokens mints an access token and an id_token bound to it (and to the
// exchanged code on the code grant).
func (p *TestProvider) issueTokens(code string) (accessToken, idToken string) {
	now := time.Now()
	crypto := DefaultCrypto()

	accessToken = TestSignJWT(p.t, p.ecdsaPrivateKey, jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(1 * time.Minute)),
		Audience:  jwt.Audience{p.clientID},
	}, map[string]interface{}{
		"scope":       p.replyScope,
		"acr":         p.replyACR,
		"permissions": p.replyPermissions,
	})

	idClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		idClaims[k] = v
	}
	if !p.omitHashClaims {
		idClaims["at_hash"] = crypto.ShortHash(accessToken)
		if code != "" {
			idClaims["c_hash"] = crypto.ShortHash(code)
		}
	}
	idToken = TestSignJWT(p.t, p.ecdsaPrivateKey, jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(1 * time.Minute)),
		Audience:  jwt.Audience{p.clientID},
	}, idClaims)

	return accessToken, idToken
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.t.Helper()
	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.mu.Lock()
		p.discoveryCount++
		failStatus := p.discoveryFailStatus
		p.mu.Unlock()
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if failStatus != 0 {
			w.WriteHeader(failStatus)
			return
		}
		p.writeJSON(w, &ProviderConfiguration{
			Issuer:                p.Addr(),
			AuthorizationEndpoint: p.Addr() + "/authorize",
			TokenEndpoint:         p.Addr() + "/token",
			UserinfoEndpoint:      p.Addr() + "/userinfo",
			JWKSURI:               p.Addr() + "/certs",
		})

	case "/certs":
		p.mu.Lock()
		p.jwksCount++
		p.mu.Unlock()
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.mu.Lock()
		code := p.expectedAuthCode
		allowed := p.allowedRedirectURIs
		p.mu.Unlock()

		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		switch {
		case qv.Get("response_type") != "code":
			p.redirectError(w, req, "unsupported_response_type", "")
			return
		case redirectURI == "" || !strutils.StrListContains(allowed, redirectURI):
			p.redirectError(w, req, "invalid_request", "redirect_uri is not allowed")
			return
		case code == "":
			p.redirectError(w, req, "access_denied", "")
			return
		}
		loc := redirectURI + "?code=" + url.QueryEscape(code)
		if state := qv.Get("state"); state != "" {
			loc += "&state=" + url.QueryEscape(state)
		}
		http.Redirect(w, req, loc, http.StatusFound)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = req.ParseForm()
		p.mu.Lock()
		p.tokenCount++
		p.lastTokenForm = req.PostForm
		gate := p.tokenGate
		expectedCode := p.expectedAuthCode
		expectedRefresh := p.expectedRefreshToken
		allowed := p.allowedRedirectURIs
		omitIDToken := p.omitIDToken
		p.mu.Unlock()

		if gate != nil {
			<-gate
		}

		switch req.PostFormValue("grant_type") {
		case "authorization_code":
			if !strutils.StrListContains(allowed, req.PostFormValue("redirect_uri")) {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			}
			if req.PostFormValue("code") != expectedCode {
				p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
		case "refresh_token":
			if req.PostFormValue("refresh_token") != expectedRefresh {
				p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
		default:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		p.mu.Lock()
		accessToken, idToken := p.issueTokens(req.PostFormValue("code"))
		p.mu.Unlock()

		reply := struct {
			AccessToken  string `json:"access_token"`
			IDToken      string `json:"id_token,omitempty"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
		}{
			AccessToken:  accessToken,
			IDToken:      idToken,
			TokenType:    "Bearer",
			ExpiresIn:    60,
			RefreshToken: "test-refresh-token",
		}
		if omitIDToken {
			reply.IDToken = ""
		}
		p.writeJSON(w, &reply)

	case "/userinfo":
		p.mu.Lock()
		p.userinfoCount++
		disabled := p.disableUserInfo
		reply := p.replyUserinfo
		p.mu.Unlock()
		if disabled {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.writeJSON(w, reply)

	case "/api/profile", "/api/password", "/api/email/change", "/api/email/verify":
		p.mu.Lock()
		failStatus := p.apiFailStatus
		p.mu.Unlock()
		if req.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if failStatus != 0 {
			w.WriteHeader(failStatus)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(req.Body).Decode(&body)
		p.mu.Lock()
		p.lastAPIPath = req.URL.Path
		p.lastAPIBody = body
		p.mu.Unlock()
		p.writeJSON(w, map[string]interface{}{})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) redirectError(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	loc := qv.Get("redirect_uri") +
		"?error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		loc += "&error_description=" + url.QueryEscape(errorMessage)
	}
	if state := qv.Get("state"); state != "" {
		loc += "&state=" + url.QueryEscape(state)
	}
	http.Redirect(w, req, loc, http.StatusFound)
}
