// Package middleware provides request-scoped Fiber middleware: authentication,
// permission checks, structured logging, rate limiting, metrics and tracing.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quill/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenIssuer is the iss claim of every token this service signs.
	TokenIssuer = "quill-api"
	// TokenAudience is the aud claim of every token this service signs.
	TokenAudience = "quill-admin"
	// AuthCookieName carries the token for browser sessions of the admin panel.
	AuthCookieName = "quill_token"

	principalLocalKey = "principal"
)

// PrincipalResolver loads the permissions of an authenticated user.
type PrincipalResolver func(ctx context.Context, userID uint) (models.Principal, error)

// Authenticator validates signed tokens and resolves the acting principal.
type Authenticator struct {
	secret  []byte
	resolve PrincipalResolver
	now     func() time.Time
}

// NewAuthenticator returns an Authenticator using the HMAC secret.
func NewAuthenticator(secret string, resolve PrincipalResolver) *Authenticator {
	return &Authenticator{secret: []byte(secret), resolve: resolve, now: time.Now}
}

// IssueToken signs a token for userID valid for ttl.
func (a *Authenticator) IssueToken(userID uint, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := a.now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iss": TokenIssuer,
		"aud": TokenAudience,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken validates tokenString and returns the user id in its subject.
func (a *Authenticator) ParseToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return 0, errors.New("invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, errors.New("invalid token structure - missing subject")
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, errors.New("invalid user ID in token")
	}
	return uint(userID), nil
}

func tokenFromRequest(c *fiber.Ctx) (string, error) {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			return "", errors.New("invalid authorization header format")
		}
		return token, nil
	}
	if cookie := c.Cookies(AuthCookieName); cookie != "" {
		return cookie, nil
	}
	return "", errors.New("authorization required")
}

// AuthRequired rejects requests without a valid token and stores the resolved
// principal for downstream handlers.
func (a *Authenticator) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(err.Error()))
		}

		userID, err := a.ParseToken(tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(err.Error()))
		}

		principal, err := a.resolve(c.UserContext(), userID)
		if err != nil {
			if models.ErrorCode(err) == models.CodeNotFound {
				return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("account no longer exists"))
			}
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		}

		c.Locals("userID", principal.UserID)
		c.Locals(principalLocalKey, principal)
		c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, principal.UserID))
		return c.Next()
	}
}

// RequirePermission allows the request only when the principal holds name.
// It must run after AuthRequired.
func RequirePermission(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFrom(c)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("authorization required"))
		}
		if !principal.Has(name) {
			return models.RespondWithError(c, fiber.StatusForbidden, models.NewForbiddenError("missing permission "+name))
		}
		return c.Next()
	}
}

// PrincipalFrom returns the principal stored by AuthRequired.
func PrincipalFrom(c *fiber.Ctx) (models.Principal, bool) {
	p, ok := c.Locals(principalLocalKey).(models.Principal)
	return p, ok
}

// SetPrincipal stores p on the request as AuthRequired would.
func SetPrincipal(c *fiber.Ctx, p models.Principal) {
	c.Locals("userID", p.UserID)
	c.Locals(principalLocalKey, p)
}
