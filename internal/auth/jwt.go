package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// SubjectKey holds the authenticated token subject in a request context.
const SubjectKey contextKey = "subject"

// ScopeFlush is the scope a token needs to flush the low priority queue.
const ScopeFlush = "flush"

const keyID = "harborfanout-key-1"

var (
	ErrMissingScope = errors.New("token lacks required scope")
	ErrBadKey       = errors.New("invalid key")
)

// Claims are the JWT claims issued for admin operations.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether s is one of the space separated scopes.
func (c *Claims) HasScope(s string) bool {
	for _, sc := range strings.Fields(c.Scope) {
		if sc == s {
			return true
		}
	}
	return false
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
	scope     string
}

// NewJWTValidator creates a validator that accepts RS256 tokens signed by the
// key in publicKeyPEM, issued by issuer for audience, carrying scope.
func NewJWTValidator(publicKeyPEM, issuer, audience, scope string) (*JWTValidator, error) {
	publicKey, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		scope:     scope,
	}, nil
}

// ParsePublicKey reads an RSA public key in PKCS1 or PKIX PEM form.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrBadKey)
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err == nil {
		return publicKey, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse public key: %w", ErrBadKey, err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrBadKey)
	}
	return rsaKey, nil
}

// ValidateToken checks the signature, issuer, audience, expiry and scope of
// tokenString and returns its claims.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if v.scope != "" && !claims.HasScope(v.scope) {
		return nil, fmt.Errorf("%w: %s", ErrMissingScope, v.scope)
	}
	return claims, nil
}

// HTTPMiddleware rejects requests without a valid bearer token.
func (v *JWTValidator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := v.ValidateToken(tokenString)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrMissingScope) {
				status = http.StatusForbidden
			}
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), status)
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the subject stored by HTTPMiddleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(SubjectKey).(string)
	return sub, ok && sub != ""
}

// ParsePrivateKey reads an RSA private key in PKCS1 or PKCS8 PEM form.
func ParsePrivateKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrBadKey)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse private key: %w", ErrBadKey, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrBadKey)
	}
	return rsaKey, nil
}

// TokenRequest describes a token to sign.
type TokenRequest struct {
	Issuer   string
	Audience string
	Subject  string
	Scope    string
	TTL      time.Duration
}

// SignToken issues an RS256 token for req signed with key.
func SignToken(key *rsa.PrivateKey, req TokenRequest) (string, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		Scope: req.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    req.Issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings{req.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	token.Header["kid"] = keyID

	s, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// GenerateKeyPair creates an RSA key pair and returns the private key in
// PKCS1 PEM and the public key in PKIX PEM.
func GenerateKeyPair(bits int) (privatePEM, publicPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("generate RSA key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pub,
	}))
	return privatePEM, publicPEM, nil
}
