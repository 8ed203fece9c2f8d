package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/primerouter/internal/config"
	submissiondomain "github.com/smallbiznis/primerouter/internal/submission/domain"
)

const (
	groupPrefix       = "DH"
	senderGroupPrefix = "Sender_"
	adminGroup        = "PrimeAdmins"
)

var errValidatorUninitialized = errors.New("validator uninitialized")

// Claims are the bearer token claims read by the API.
type Claims struct {
	jwt.RegisteredClaims
	Organization []string `json:"organization"`
}

// JWTValidator checks HS256 bearer tokens signed with the configured secret.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator returns a validator that rejects every token when no secret
// is configured.
func NewJWTValidator(cfg config.Config) *JWTValidator {
	return &JWTValidator{secret: []byte(strings.TrimSpace(cfg.AuthJWTSecret))}
}

func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errValidatorUninitialized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// AuthContext maps the organization groups of a token to the organizations
// the caller belongs to. "DHSender_md-phd" and "DHmd-phd" both name md-phd.
func (c *Claims) AuthContext() submissiondomain.AuthContext {
	auth := submissiondomain.AuthContext{Subject: c.Subject}
	for _, group := range c.Organization {
		name := strings.TrimPrefix(strings.TrimSpace(group), groupPrefix)
		name = strings.TrimPrefix(name, senderGroupPrefix)
		switch name {
		case "":
			continue
		case adminGroup:
			auth.IsAdmin = true
		default:
			auth.Organizations = append(auth.Organizations, name)
		}
	}
	return auth
}
