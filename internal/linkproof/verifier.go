package linkproof

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret means no signing secret was configured. Resolving the secret
// is a startup concern; hitting this at runtime is a configuration bug,
// not a verification failure.
var ErrNoSecret = errors.New("linking proof secret is not configured")

// proofClaims is the JWT payload of a linking proof token. The subject
// fields must match the identity triple being verified exactly.
type proofClaims struct {
	GithubUsername string `json:"github_username"`
	XUserID        string `json:"x_user_id"`
	XUsername      string `json:"x_username"`
	jwt.RegisteredClaims
}

// Verifier issues and verifies signed linking proof tokens. The secret is
// resolved once at process start and passed in explicitly.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier with the given shared secret
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Issue creates a signed proof token binding a GitHub identity to an
// X account
func (v *Verifier) Issue(githubUsername, xUserID, xUsername string) (string, error) {
	claims := &proofClaims{
		GithubUsername: githubUsername,
		XUserID:        xUserID,
		XUsername:      xUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify checks that tokenString is validly signed and that its subject
// claims match the supplied identity triple exactly. Any mismatch (bad
// signature, wrong subject, expired or malformed token) returns false.
// Verification failures are definitional, never retried or escalated.
func (v *Verifier) Verify(githubUsername, xUserID, xUsername, tokenString string) bool {
	token, err := jwt.ParseWithClaims(tokenString, &proofClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify the signing method to prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return false
	}

	claims, ok := token.Claims.(*proofClaims)
	if !ok || !token.Valid {
		return false
	}

	return claims.GithubUsername == githubUsername &&
		claims.XUserID == xUserID &&
		claims.XUsername == xUsername
}
