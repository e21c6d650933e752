// Package token implements component C7: signing and verifying the
// compact RS256 JWTs that carry an MPA request statelessly between the
// beneficiary's request and the reviewer's approval, plus the reversible
// URL obfuscation of the wire token. Verification is grounded on
// pkg/auth/jwt.go's JWTValidator (JWKS cache, issuer/audience/expiry
// checks); signing follows the same package's jwt.NewWithClaims idiom.
package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/codes"

	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/telemetry"
)

// MpaRequest is the decoded payload of an activation token, per spec.md
// §4.6's flat claim schema.
type MpaRequest struct {
	ActivationId  resourceid.ActivationId
	Beneficiary   resourceid.UserEmail
	Reviewers     []resourceid.UserEmail
	Resource      string
	Role          string
	Justification string
	Start         time.Time
	End           time.Time
}

// claims is the on-wire JSON shape, embedding the registered claims
// (iss, aud, exp, jti) and the domain-specific fields flattened alongside
// them, exactly as spec.md §4.6 describes.
type claims struct {
	jwt.RegisteredClaims
	Beneficiary   string   `json:"beneficiary"`
	Reviewers     []string `json:"reviewers"`
	Resource      string   `json:"resource"`
	Role          string   `json:"role"`
	Justification string   `json:"justification"`
	Start         int64    `json:"start"`
	End           int64    `json:"end"`
}

// Signer signs MpaRequest values as compact RS256 JWTs using the
// application's own service-account key.
type Signer struct {
	serviceAccountEmail string
	keyID               string
	key                 *rsa.PrivateKey
	tokenTTL            time.Duration
}

// NewSigner constructs a Signer. tokenTTL bounds how long the token itself
// remains presentable to /activation-request, independent of the
// requested activation window (start/end carried in the claims).
func NewSigner(serviceAccountEmail, keyID string, key *rsa.PrivateKey, tokenTTL time.Duration) *Signer {
	return &Signer{serviceAccountEmail: serviceAccountEmail, keyID: keyID, key: key, tokenTTL: tokenTTL}
}

// Sign renders req as a compact RS256 JWT.
func (s *Signer) Sign(ctx context.Context, req MpaRequest) (string, error) {
	_, span := telemetry.Tracer().Start(ctx, "token.Sign")
	defer span.End()

	reviewers := make([]string, len(req.Reviewers))
	for i, r := range req.Reviewers {
		reviewers[i] = r.String()
	}

	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.serviceAccountEmail,
			Audience:  jwt.ClaimStrings{s.serviceAccountEmail},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        req.ActivationId.String(),
		},
		Beneficiary:   req.Beneficiary.String(),
		Reviewers:     reviewers,
		Resource:      req.Resource,
		Role:          req.Role,
		Justification: req.Justification,
		Start:         req.Start.Unix(),
		End:           req.End.Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", errors.NewInternalError("failed to sign activation token", err)
	}
	return signed, nil
}

// Verifier verifies activation tokens against the signing service
// account's published JWKS.
type Verifier struct {
	serviceAccountEmail string
	jwksURL             string
	cache               *jwk.Cache
}

// NewVerifier constructs a Verifier, registering jwksURL with an
// auto-refreshing JWKS cache exactly as the teacher's JWTValidator does.
func NewVerifier(ctx context.Context, serviceAccountEmail, jwksURL string) (*Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL); err != nil {
		return nil, errors.NewInternalError("failed to register JWKS URL", err)
	}
	return &Verifier{serviceAccountEmail: serviceAccountEmail, jwksURL: jwksURL, cache: cache}, nil
}

// Verify checks signature, issuer, audience, and expiry, then decodes the
// token back into an MpaRequest. Every failure collapses into AccessDenied
// per spec.md §7, so a caller cannot distinguish "expired" from
// "malformed" from "wrong signer" — that distinction is an oracle an
// unauthenticated caller should not get.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (MpaRequest, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return v.keyFunc(ctx, t)
	}, jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.serviceAccountEmail),
		jwt.WithAudience(v.serviceAccountEmail))
	if err != nil || !parsed.Valid {
		return MpaRequest{}, errors.NewAccessDeniedError("activation token failed verification", err)
	}

	beneficiary, err := resourceid.NewUserEmail(c.Beneficiary)
	if err != nil {
		return MpaRequest{}, errors.NewAccessDeniedError("activation token has an invalid beneficiary", err)
	}
	reviewers := make([]resourceid.UserEmail, 0, len(c.Reviewers))
	for _, r := range c.Reviewers {
		email, err := resourceid.NewUserEmail(r)
		if err != nil {
			return MpaRequest{}, errors.NewAccessDeniedError("activation token has an invalid reviewer", err)
		}
		reviewers = append(reviewers, email)
	}

	return MpaRequest{
		ActivationId:  resourceid.ActivationId(c.ID),
		Beneficiary:   beneficiary,
		Reviewers:     reviewers,
		Resource:      c.Resource,
		Role:          c.Role,
		Justification: c.Justification,
		Start:         time.Unix(c.Start, 0).UTC(),
		End:           time.Unix(c.End, 0).UTC(),
	}, nil
}

func (v *Verifier) keyFunc(ctx context.Context, t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	kid, ok := t.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key id %s not found in JWKS", kid)
	}
	var rawKey any
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("failed to get raw key: %w", err)
	}
	return rawKey, nil
}

// Obfuscate applies the reversible, URL-safe transform used for the
// wire-exposed activation token: raw base64url of the JWT bytes. Defense
// in depth only — authorization still requires the reviewer's verified
// identity and a live eligibility check.
func Obfuscate(tokenString string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(tokenString))
}

// Deobfuscate reverses Obfuscate.
func Deobfuscate(obfuscated string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", errors.NewInvalidArgumentError("malformed activation token encoding", err)
	}
	return string(raw), nil
}
