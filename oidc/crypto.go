package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/hashicorp/go-uuid"
	"gopkg.in/square/go-jose.v2"
)

// minVerifierBytes is the number of random bytes drawn for a PKCE code
// verifier before encoding.
const minVerifierBytes = 96

// Crypto is the capability interface for the cryptographic operations the
// client depends on. The host decides which implementation to construct; the
// library never probes its environment. DefaultCrypto is used when a Config
// doesn't provide one.
type Crypto interface {
	// ShortHash computes the provider-documented short hash of a value:
	// SHA-256 over the UTF-8 bytes, first half of the digest, unpadded
	// URL-safe base64. The same hash is used to derive S256 PKCE
	// challenges and to check the id_token's c_hash/at_hash claims.
	ShortHash(value string) string

	// RandomVerifier returns a new URL-safe base64 string drawn from at
	// least 96 random bytes, suitable as a PKCE code verifier.
	RandomVerifier() (string, error)

	// VerifyJWS parses a compact-serialized JWS, verifies its signature
	// against the key set, and returns the raw payload. The signature
	// algorithm must be one of algs when algs is non-empty.
	VerifyJWS(token string, keys *jose.JSONWebKeySet, algs []Alg) ([]byte, error)

	// DecryptJWE parses a compact-serialized JWE and decrypts it with the
	// given key, returning the plaintext (typically a nested JWS).
	DecryptJWE(token string, key interface{}) (string, error)
}

// DefaultCrypto returns the standard Crypto implementation, backed by the
// go-jose library and crypto/rand randomness.
func DefaultCrypto() Crypto {
	return stdCrypto{}
}

type stdCrypto struct{}

func (stdCrypto) ShortHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

func (stdCrypto) RandomVerifier() (string, error) {
	const op = "oidc.RandomVerifier"
	data, err := uuid.GenerateRandomBytes(minVerifierBytes)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate random bytes: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func (stdCrypto) VerifyJWS(token string, keys *jose.JSONWebKeySet, algs []Alg) ([]byte, error) {
	const op = "oidc.VerifyJWS"
	if keys == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token: %w", op, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("%s: expected one signature, got %d", op, len(jws.Signatures))
	}
	hdr := jws.Signatures[0].Header
	if len(algs) > 0 {
		var allowed bool
		for _, a := range algs {
			if string(a) == hdr.Algorithm {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("%s: token signed with %s: %w", op, hdr.Algorithm, ErrUnsupportedAlg)
		}
	}

	candidates := keys.Keys
	if hdr.KeyID != "" {
		candidates = keys.Key(hdr.KeyID)
	}
	for _, k := range candidates {
		if payload, err := jws.Verify(k); err == nil {
			return payload, nil
		}
	}
	return nil, errors.New("oidc.VerifyJWS: no key in the set verified the signature")
}

func (stdCrypto) DecryptJWE(token string, key interface{}) (string, error) {
	const op = "oidc.DecryptJWE"
	if key == nil {
		return "", fmt.Errorf("%s: decryption key is nil: %w", op, ErrNilParameter)
	}
	jwe, err := jose.ParseEncrypted(token)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse token: %w", op, err)
	}
	data, err := jwe.Decrypt(key)
	if err != nil {
		return "", fmt.Errorf("%s: unable to decrypt token: %w", op, err)
	}
	return string(data), nil
}
