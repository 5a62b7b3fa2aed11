package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dm-service/config"
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens is an access/refresh pair issued at sign in.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenMetadata is what the service trusts from a verified token.
type TokenMetadata struct {
	Id  string
	Otp bool
	Exp int64
}

// UserID parses the subject id carried by the token.
func (m *TokenMetadata) UserID() (uint, error) {
	return ParseUserID(m.Id)
}

// GenerateTokens issues a new access and refresh token for user id. otp marks
// tokens that still need a second factor before they unlock the API.
func GenerateTokens(id string, otp bool) (*Tokens, error) {
	access, err := generateToken(id, otp, config.Int("JWT_ACCESS_EXPIRE", 15), config.Config("JWT_ACCESS_KEY"))
	if err != nil {
		return nil, err
	}
	refresh, err := generateToken(id, otp, config.Int("JWT_REFRESH_EXPIRE", 10080), config.Config("JWT_REFRESH_KEY"))
	if err != nil {
		return nil, err
	}
	return &Tokens{Access: access, Refresh: refresh}, nil
}

func generateToken(id string, otp bool, minutes int, key string) (string, error) {
	if key == "" {
		return "", errors.New("token signing key is not configured")
	}
	claims := jwt.MapClaims{
		"id":  id,
		"otp": otp,
		"exp": time.Now().Add(time.Duration(minutes) * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(key))
}

// CheckAndExtractTokenMetadata verifies token against the secret stored under
// the config key and returns its claims.
func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	secret := []byte(config.Config(key))
	t, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}
	return MetadataFromClaims(claims)
}

// MetadataFromClaims reads the claims written by generateToken.
func MetadataFromClaims(claims jwt.MapClaims) (*TokenMetadata, error) {
	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidToken)
	}
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)
	return &TokenMetadata{Id: id, Otp: otp, Exp: int64(exp)}, nil
}

func ParseUserID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: bad user id %q", ErrInvalidToken, s)
	}
	return uint(n), nil
}
