package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testKeyID = "test-key-id"

func generateRSAKeyPair(t testing.TB) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func createJWKS(t testing.TB, publicKey *rsa.PublicKey) jwk.Set {
	t.Helper()
	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		t.Fatalf("failed to build jwk: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("failed to set kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("failed to set alg: %v", err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(key); err != nil {
		t.Fatalf("failed to add key: %v", err)
	}
	return keyset
}

func createTestJWT(t testing.TB, privateKey *rsa.PrivateKey, issuer, audience, subject string, claims map[string]any) string {
	t.Helper()
	token := jwt.New()

	mustSet := func(key string, val any) {
		if err := token.Set(key, val); err != nil {
			t.Fatalf("failed to set claim %s: %v", key, err)
		}
	}
	mustSet(jwt.IssuerKey, issuer)
	mustSet(jwt.AudienceKey, audience)
	mustSet(jwt.SubjectKey, subject)
	mustSet(jwt.IssuedAtKey, time.Now())
	mustSet(jwt.ExpirationKey, time.Now().Add(time.Hour))
	for k, v := range claims {
		mustSet(k, v)
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to build signing key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("failed to set signing kid: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

// testFixture bundles a running JWKS server and the validator pointed at
// it, plus the signing key needed to mint test tokens.
type testFixture struct {
	validator *JWTValidator
	server    *httptest.Server
	key       *rsa.PrivateKey
	issuer    string
	audience  string
}

func setupTestValidator(t testing.TB) *testFixture {
	t.Helper()

	privateKey, publicKey := generateRSAKeyPair(t)
	keyset := createJWKS(t, publicKey)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keysetJSON, err := json.Marshal(keyset)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(keysetJSON)
	}))
	t.Cleanup(server.Close)

	issuer := "https://test-issuer.example.com"
	audience := "kestrel-test"

	validator, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:         server.URL,
		Issuer:          issuer,
		Audience:        audience,
		RefreshInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	return &testFixture{
		validator: validator,
		server:    server,
		key:       privateKey,
		issuer:    issuer,
		audience:  audience,
	}
}
