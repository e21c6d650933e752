package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

const testServiceAccount = "jit-access@example-project.iam.gserviceaccount.com"

func newTestJWKS(t *testing.T, pub *rsa.PublicKey, kid string) *httptest.Server {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
}

func mustEmail(t *testing.T, s string) resourceid.UserEmail {
	t.Helper()
	e, err := resourceid.NewUserEmail(s)
	require.NoError(t, err)
	return e
}

func TestSignVerify_RoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := newTestJWKS(t, &priv.PublicKey, "kid-1")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer := NewSigner(testServiceAccount, "kid-1", priv, time.Hour)
	verifier, err := NewVerifier(ctx, testServiceAccount, srv.URL)
	require.NoError(t, err)

	start := time.Now().Truncate(time.Second)
	end := start.Add(30 * time.Minute)
	req := MpaRequest{
		ActivationId:  resourceid.NewMpaActivationId("abc123"),
		Beneficiary:   mustEmail(t, "alice@example.org"),
		Reviewers:     []resourceid.UserEmail{mustEmail(t, "bob@example.org")},
		Resource:      "projects/p1",
		Role:          "roles/compute.admin",
		Justification: "BUG-2",
		Start:         start,
		End:           end,
	}

	signed, err := signer.Sign(ctx, req)
	require.NoError(t, err)

	decoded, err := verifier.Verify(ctx, signed)
	require.NoError(t, err)

	assert.Equal(t, req.ActivationId, decoded.ActivationId)
	assert.True(t, req.Beneficiary.Equal(decoded.Beneficiary))
	require.Len(t, decoded.Reviewers, 1)
	assert.True(t, req.Reviewers[0].Equal(decoded.Reviewers[0]))
	assert.Equal(t, req.Resource, decoded.Resource)
	assert.Equal(t, req.Role, decoded.Role)
	assert.Equal(t, req.Justification, decoded.Justification)
	assert.Equal(t, req.Start.Unix(), decoded.Start.Unix())
	assert.Equal(t, req.End.Unix(), decoded.End.Unix())
}

func TestVerify_RejectsWrongAudience(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newTestJWKS(t, &priv.PublicKey, "kid-1")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer := NewSigner("someone-else@example.org", "kid-1", priv, time.Hour)
	verifier, err := NewVerifier(ctx, testServiceAccount, srv.URL)
	require.NoError(t, err)

	signed, err := signer.Sign(ctx, MpaRequest{
		ActivationId: resourceid.NewMpaActivationId("x"),
		Beneficiary:  mustEmail(t, "alice@example.org"),
		Start:        time.Now(),
		End:          time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, signed)
	require.Error(t, err)
	assert.True(t, errors.IsAccessDenied(err))
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newTestJWKS(t, &priv.PublicKey, "kid-1")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer := NewSigner(testServiceAccount, "kid-1", priv, -time.Minute)
	verifier, err := NewVerifier(ctx, testServiceAccount, srv.URL)
	require.NoError(t, err)

	signed, err := signer.Sign(ctx, MpaRequest{
		ActivationId: resourceid.NewMpaActivationId("x"),
		Beneficiary:  mustEmail(t, "alice@example.org"),
		Start:        time.Now(),
		End:          time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, signed)
	require.Error(t, err)
	assert.True(t, errors.IsAccessDenied(err))
}

func TestObfuscateDeobfuscate_RoundTrip(t *testing.T) {
	original := "header.payload.signature"
	obfuscated := Obfuscate(original)
	assert.NotEqual(t, original, obfuscated)

	recovered, err := Deobfuscate(obfuscated)
	require.NoError(t, err)
	assert.Equal(t, original, recovered)
}

func TestDeobfuscate_RejectsMalformedEncoding(t *testing.T) {
	_, err := Deobfuscate("not valid base64url!!!")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}
