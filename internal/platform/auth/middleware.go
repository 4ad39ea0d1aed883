package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/pkg/apperror"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Staff roles recognised by the role gates.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RoleReceptionist = "receptionist"
)

// Claims is the token payload. Tokens issued by the login service carry a
// single "role"; newer tokens carry "roles". Both are honoured.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AllRoles merges Role and Roles without duplicates.
func (c *Claims) AllRoles() []string {
	roles := make([]string, 0, len(c.Roles)+1)
	seen := make(map[string]bool, len(c.Roles)+1)
	for _, r := range append([]string{c.Role}, c.Roles...) {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		roles = append(roles, r)
	}
	return roles
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// QueryParam, when set, names a query parameter that may carry the token
	// for clients that cannot send headers, such as browser websockets.
	QueryParam string
}

// ParseToken verifies an HS256 bearer token and returns its claims.
func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func requestToken(c echo.Context, queryParam string) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if queryParam != "" {
			if tok := strings.TrimSpace(c.QueryParam(queryParam)); tok != "" {
				return tok, nil
			}
		}
		return "", apperror.Unauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperror.Unauthorized("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func hasCredentials(c echo.Context, queryParam string) bool {
	if c.Request().Header.Get("Authorization") != "" {
		return true
	}
	return queryParam != "" && c.QueryParam(queryParam) != ""
}

func withIdentity(c echo.Context, userID string, roles []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := requestToken(c, cfg.QueryParam)
			if err != nil {
				return err
			}

			claims, err := ParseToken(cfg, tokenStr)
			if err != nil {
				return apperror.Unauthorized("invalid token")
			}

			withIdentity(c, claims.Subject, claims.AllRoles())
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development that grants
// admin to requests without credentials. Requests that do send a token are
// verified when a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if !hasCredentials(c, cfg.QueryParam) || len(cfg.SigningKey) == 0 {
				withIdentity(c, "dev-user", []string{RoleAdmin})
				return next(c)
			}
			return verified(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
