// Package flowtoken signs and verifies the cookie that binds a browser to
// its sign-in flow. Keys come from a JWK set; signing rotates across every
// key that carries private material.
package flowtoken

import (
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
)

var (
	ErrFetchJWKSet          = errors.New("failed to fetch JWK set")
	ErrFailedToCastKey      = errors.New("failed to cast key to jwk.Key")
	ErrNoSuitablePrivateKey = errors.New("no suitable private key found")
	ErrFailedToGetRawKey    = errors.New("failed to get raw key")
	ErrFailedToSignJWT      = errors.New("failed to sign JWT")
	ErrInvalidToken         = errors.New("invalid flow token")
)

const issuer = "otp-signin"

// KeySource yields the current JWK set.
type KeySource interface {
	Fetch(ctx context.Context) (jwk.Set, error)
}

// StaticKeys serves a fixed set, e.g. one read from disk at startup.
type StaticKeys struct {
	Set jwk.Set
}

func (s StaticKeys) Fetch(context.Context) (jwk.Set, error) {
	if s.Set == nil {
		return nil, ErrFetchJWKSet
	}
	return s.Set, nil
}

// ReadKeyFile loads a JWK set from a JSON file.
func ReadKeyFile(path string) (StaticKeys, error) {
	set, err := jwk.ReadFile(path)
	if err != nil {
		return StaticKeys{}, fmt.Errorf("%w: %v", ErrFetchJWKSet, err)
	}
	return StaticKeys{Set: set}, nil
}

// RemoteKeys keeps a JWK set fetched from a URL fresh in the background.
type RemoteKeys struct {
	autoRefresh *jwk.AutoRefresh
	url         string
}

// NewRemoteKeys registers url for auto refresh and fetches it once so that
// a misconfigured URL fails at startup.
func NewRemoteKeys(ctx context.Context, url string, refreshInterval time.Duration) (*RemoteKeys, error) {
	ar := jwk.NewAutoRefresh(ctx)
	ar.Configure(url, jwk.WithRefreshInterval(refreshInterval))

	if _, err := ar.Fetch(ctx, url); err != nil {
		slog.ErrorContext(ctx, "failed to fetch initial JWK set", "url", url, "error", err)
		return nil, ErrFetchJWKSet
	}
	return &RemoteKeys{autoRefresh: ar, url: url}, nil
}

func (r *RemoteKeys) Fetch(ctx context.Context) (jwk.Set, error) {
	set, err := r.autoRefresh.Fetch(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchJWKSet, err)
	}
	return set, nil
}

type claims struct {
	FlowID string `json:"fid"`
	jwt.RegisteredClaims
}

// Codec issues and parses flow tokens.
type Codec struct {
	keys     KeySource
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	keyIndex int
}

// NewCodec creates a Codec whose tokens expire after ttl.
func NewCodec(keys KeySource, ttl time.Duration) *Codec {
	return &Codec{keys: keys, ttl: ttl, now: time.Now}
}

// Sign returns a token naming flowID.
func (c *Codec) Sign(ctx context.Context, flowID string) (string, error) {
	privateKey, keyID, method, err := c.nextPrivateKey(ctx)
	if err != nil {
		return "", err
	}

	now := c.now()
	token := jwt.NewWithClaims(method, claims{
		FlowID: flowID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(privateKey)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sign flow token", "error", err)
		return "", ErrFailedToSignJWT
	}
	return signed, nil
}

// Parse verifies a token and returns the flow ID it names.
func (c *Codec) Parse(ctx context.Context, tokenString string) (string, error) {
	var cl claims
	token, err := jwt.ParseWithClaims(tokenString, &cl, func(token *jwt.Token) (interface{}, error) {
		keyID, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("expecting JWT header to have 'kid'")
		}
		set, err := c.keys.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		key, found := lookupKey(ctx, set, keyID)
		if !found {
			return nil, fmt.Errorf("unable to find key with ID '%s'", keyID)
		}
		return verificationKey(key)
	}, jwt.WithValidMethods([]string{"RS256", "ES256", "HS256"}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if cl.Issuer != issuer || cl.FlowID == "" {
		return "", ErrInvalidToken
	}
	return cl.FlowID, nil
}

// nextPrivateKey returns the next signing key and rotates the index.
func (c *Codec) nextPrivateKey(ctx context.Context) (interface{}, string, jwt.SigningMethod, error) {
	keySet, err := c.keys.Fetch(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch JWK set", "error", err)
		return nil, "", nil, ErrFetchJWKSet
	}

	var privateKeys []jwk.Key
	var keyIDs []string

	for it := keySet.Iterate(ctx); it.Next(ctx); {
		key, ok := it.Pair().Value.(jwk.Key)
		if !ok {
			return nil, "", nil, ErrFailedToCastKey
		}

		if canUseForSigning(key) {
			keyID, err := keyIdentifier(key)
			if err != nil {
				slog.ErrorContext(ctx, "failed to identify signing key", "error", err)
				continue
			}
			privateKeys = append(privateKeys, key)
			keyIDs = append(keyIDs, keyID)
		}
	}

	if len(privateKeys) == 0 {
		return nil, "", nil, ErrNoSuitablePrivateKey
	}

	c.mu.Lock()
	selected := c.keyIndex % len(privateKeys)
	c.keyIndex = (c.keyIndex + 1) % len(privateKeys)
	c.mu.Unlock()

	var rawKey interface{}
	if err := privateKeys[selected].Raw(&rawKey); err != nil {
		slog.ErrorContext(ctx, "failed to get raw key", "error", err)
		return nil, "", nil, ErrFailedToGetRawKey
	}

	return rawKey, keyIDs[selected], signingMethod(privateKeys[selected]), nil
}

// keyIdentifier is the key's kid, or its RFC 7638 thumbprint when the set
// leaves kid out. Parse resolves both forms.
func keyIdentifier(key jwk.Key) (string, error) {
	if kid := key.KeyID(); kid != "" {
		return kid, nil
	}
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func lookupKey(ctx context.Context, set jwk.Set, keyID string) (jwk.Key, bool) {
	if key, found := set.LookupKeyID(keyID); found {
		return key, true
	}
	for it := set.Iterate(ctx); it.Next(ctx); {
		key, ok := it.Pair().Value.(jwk.Key)
		if !ok || key.KeyID() != "" {
			continue
		}
		if id, err := keyIdentifier(key); err == nil && id == keyID {
			return key, true
		}
	}
	return nil, false
}

func canUseForSigning(key jwk.Key) bool {
	switch key.KeyType() {
	case jwa.RSA:
		if rsaKey, ok := key.(jwk.RSAPrivateKey); ok {
			return rsaKey.D() != nil
		}
	case jwa.EC:
		if ecKey, ok := key.(jwk.ECDSAPrivateKey); ok {
			return ecKey.D() != nil
		}
	case jwa.OctetSeq:
		if octKey, ok := key.(jwk.SymmetricKey); ok {
			return len(octKey.Octets()) > 0
		}
	}
	return false
}

func signingMethod(key jwk.Key) jwt.SigningMethod {
	switch key.KeyType() {
	case jwa.EC:
		return jwt.SigningMethodES256
	case jwa.OctetSeq:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodRS256
	}
}

func verificationKey(key jwk.Key) (interface{}, error) {
	if key.KeyType() != jwa.OctetSeq {
		pub, err := key.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive public key: %w", err)
		}
		key = pub
	}
	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to get raw public key: %w", err)
	}
	return raw, nil
}
