package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/principal"
)

var (
	contextTokenKey     = "userToken"
	contextPrincipalKey = "principal"
	tokenAudience       = "Bursar"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Username  string   `json:"username,omitempty"`
	Email     string   `json:"email,omitempty"`
	IsStudent bool     `json:"is_student,omitempty"`
	IsTeacher bool     `json:"is_teacher,omitempty"`
	IsAdmin   bool     `json:"is_admin,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

func (c Claims) Principal() principal.Principal {
	return principal.Principal{
		ID:       c.Subject,
		Username: c.Username,
		Email:    c.Email,
		Roles:    c.Roles,
	}
}

// jwtConfig returns the JWT auth middleware config.
func jwtConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

// NewClaims returns the claims identifying p, valid for conf.Server.JWTExpirationDelta.
func NewClaims(conf *core.Config, p principal.Principal) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   p.ID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username:  p.Username,
		Email:     p.Email,
		IsStudent: p.IsStudent(),
		IsTeacher: p.IsTeacher(),
		IsAdmin:   p.IsAdmin(),
		Roles:     p.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextPrincipal returns the authenticated caller.
func getContextPrincipal(ctx echo.Context) (principal.Principal, error) {
	if p, ok := ctx.Get(contextPrincipalKey).(principal.Principal); ok {
		return p, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return principal.Principal{}, err
	}
	p := claims.Principal()
	if p.ID == "" {
		return principal.Principal{}, errUnauthorized
	}
	ctx.Set(contextPrincipalKey, p)
	return p, nil
}
