package flowtoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

func mustKey(t *testing.T, raw interface{}, kid string) jwk.Key {
	t.Helper()
	key, err := jwk.New(raw)
	if err != nil {
		t.Fatalf("jwk.New: %v", err)
	}
	if kid == "" {
		return key
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	return key
}

func keySet(keys ...jwk.Key) StaticKeys {
	set := jwk.NewSet()
	for _, k := range keys {
		set.Add(k)
	}
	return StaticKeys{Set: set}
}

func headerKid(t *testing.T, token string) string {
	t.Helper()
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	kid, _ := parsed.Header["kid"].(string)
	return kid
}

func TestSignParseRoundTrip(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}

	cases := map[string]jwk.Key{
		"hs256": mustKey(t, []byte("0123456789abcdef0123456789abcdef"), "hmac"),
		"rs256": mustKey(t, rsaKey, "rsa"),
		"es256": mustKey(t, ecKey, "ec"),
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			codec := NewCodec(keySet(key), time.Minute)
			ctx := context.Background()

			token, err := codec.Sign(ctx, "flow-1")
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if got := headerKid(t, token); got != key.KeyID() {
				t.Fatalf("kid=%q want %q", got, key.KeyID())
			}
			id, err := codec.Parse(ctx, token)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if id != "flow-1" {
				t.Fatalf("flow id=%q", id)
			}
		})
	}
}

func TestSigningRotatesKeys(t *testing.T) {
	codec := NewCodec(keySet(
		mustKey(t, []byte("first-secret-first-secret-first!"), "a"),
		mustKey(t, []byte("second-secret-second-secret-sec!"), "b"),
	), time.Minute)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		token, err := codec.Sign(ctx, "flow")
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		seen[headerKid(t, token)] = true
		if _, err := codec.Parse(ctx, token); err != nil {
			t.Fatalf("parse: %v", err)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("rotation used kids %v", seen)
	}
}

func TestKeysWithoutKid(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	ctx := context.Background()

	cases := map[string][]jwk.Key{
		"single hmac": {mustKey(t, []byte("0123456789abcdef0123456789abcdef"), "")},
		"rsa":         {mustKey(t, rsaKey, "")},
		"mixed": {
			mustKey(t, []byte("first-secret-first-secret-first!"), ""),
			mustKey(t, []byte("second-secret-second-secret-sec!"), "named"),
		},
	}
	for name, keys := range cases {
		t.Run(name, func(t *testing.T) {
			codec := NewCodec(keySet(keys...), time.Minute)
			for i := 0; i < 2*len(keys); i++ {
				token, err := codec.Sign(ctx, "flow-1")
				if err != nil {
					t.Fatalf("sign: %v", err)
				}
				if headerKid(t, token) == "" {
					t.Fatal("token carries no kid")
				}
				id, err := codec.Parse(ctx, token)
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				if id != "flow-1" {
					t.Fatalf("flow id=%q", id)
				}
			}
		})
	}

	// A kid-less key in another set does not verify our tokens.
	signer := NewCodec(keySet(mustKey(t, []byte("0123456789abcdef0123456789abcdef"), "")), time.Minute)
	verifier := NewCodec(keySet(mustKey(t, []byte("another-secret-another-secret-!!"), "")), time.Minute)
	token, err := signer.Sign(ctx, "flow")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Parse(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v want ErrInvalidToken", err)
	}
}

func TestParseRejects(t *testing.T) {
	key := mustKey(t, []byte("0123456789abcdef0123456789abcdef"), "k")
	codec := NewCodec(keySet(key), time.Minute)
	ctx := context.Background()

	valid, err := codec.Sign(ctx, "flow")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	expiredCodec := NewCodec(keySet(key), time.Minute)
	expiredCodec.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredCodec.Sign(ctx, "flow")
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}

	other := NewCodec(keySet(mustKey(t, []byte("another-secret-another-secret-!!"), "k")), time.Minute)
	forged, err := other.Sign(ctx, "flow")
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}

	unknownKid := NewCodec(keySet(mustKey(t, []byte("0123456789abcdef0123456789abcdef"), "zz")), time.Minute)
	wrongKid, err := unknownKid.Sign(ctx, "flow")
	if err != nil {
		t.Fatalf("sign wrong kid: %v", err)
	}

	cases := map[string]string{
		"garbage":     "not-a-token",
		"expired":     expired,
		"forged":      forged,
		"unknown kid": wrongKid,
		"truncated":   valid[:len(valid)-4],
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Parse(ctx, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err=%v want ErrInvalidToken", err)
			}
		})
	}
}

func TestSignWithoutPrivateKey(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	codec := NewCodec(keySet(mustKey(t, &rsaKey.PublicKey, "pub")), time.Minute)
	if _, err := codec.Sign(context.Background(), "flow"); !errors.Is(err, ErrNoSuitablePrivateKey) {
		t.Fatalf("err=%v want ErrNoSuitablePrivateKey", err)
	}

	empty := NewCodec(StaticKeys{}, time.Minute)
	if _, err := empty.Sign(context.Background(), "flow"); !errors.Is(err, ErrFetchJWKSet) {
		t.Fatalf("err=%v want ErrFetchJWKSet", err)
	}
}
