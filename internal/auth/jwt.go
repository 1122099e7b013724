package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims holds the session token payload. The organization travels in the
// "tid" claim and scopes every room a connection may join.
type Claims struct {
	jwt.RegisteredClaims
	OrgID     string `json:"tid"`
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
}

const tokenTypeAccess = "access"

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Principal is the authenticated identity extracted from a valid token.
type Principal struct {
	OrgID  uuid.UUID
	UserID uuid.UUID
	Role   string
}

// IssueAccessToken creates a signed JWT access token.
func IssueAccessToken(secret string, orgID, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "boardsync",
		},
		OrgID:     orgID.String(),
		UserID:    userID.String(),
		Role:      role,
		TokenType: tokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueAccessToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// Authenticate validates an access token and resolves its principal.
func Authenticate(secret, tokenString string) (Principal, error) {
	claims, err := ValidateToken(secret, tokenString)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenType != tokenTypeAccess {
		return Principal{}, fmt.Errorf("auth.Authenticate: not an access token: %w", ErrInvalidToken)
	}

	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil || orgID == uuid.Nil {
		return Principal{}, fmt.Errorf("auth.Authenticate: bad tid: %w", ErrInvalidToken)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil || userID == uuid.Nil {
		return Principal{}, fmt.Errorf("auth.Authenticate: bad uid: %w", ErrInvalidToken)
	}

	return Principal{OrgID: orgID, UserID: userID, Role: claims.Role}, nil
}
