// Package middleware contains HTTP middleware functions for the Company Chat server.
// Middleware sits between the HTTP server and route handlers — it runs on every
// request that passes through it, making it the right place for cross-cutting
// concerns like authentication.
package middleware

import (
	"context"
	"errors"
	"strings"

	// fiber is the HTTP framework; fiber.Handler is the function signature for middleware
	"github.com/gofiber/fiber/v2"
	// jwt parses and verifies JSON Web Tokens (JWTs)
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/models"
)

// Keys of the values Auth and Identify store in c.Locals.
const (
	LocalUserID    = "userID"
	LocalUserRole  = "userRole"
	LocalPrincipal = "principal"
)

var errNoToken = errors.New("missing token")

// Claims defines the data we expect inside a token payload.
// The standard "sub" claim identifies the user at the identity provider; the
// custom claims carry the chat display name and the global role.
type Claims struct {
	jwt.RegisteredClaims        // Standard JWT fields: Subject, ExpiresAt, IssuedAt, etc.
	Username             string `json:"username"` // Display name in chat
	Name                 string `json:"name"`     // Fallback display name
	Role                 string `json:"role"`     // "admin" or "user"
}

// UserSyncer finds or creates the user behind a token (implemented by directory.Store).
type UserSyncer interface {
	SyncUser(ctx context.Context, externalID, username string, role models.UserRole) (*models.User, error)
}

// Authenticator verifies HS256 tokens and lazily syncs their users to our database.
type Authenticator struct {
	secret []byte
	users  UserSyncer
	logger *zap.Logger
	parser *jwt.Parser
}

func NewAuthenticator(secret string, users UserSyncer, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		users:  users,
		logger: logging.OrNop(logger),
		// Only accept HMAC-SHA256 so a token cannot pick its own algorithm (e.g. "none").
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Auth returns a Fiber middleware handler that:
//  1. Validates the JWT from the "Authorization: Bearer <token>" header (or ?token=)
//  2. Finds the matching user in our database (or creates one on first visit)
//  3. Stores the user's internal UUID, role and chat principal in c.Locals
//     so downstream handlers can read them without re-parsing the token
//
// Requests without a valid token are rejected with 401.
func (a *Authenticator) Auth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := a.authenticate(c)
		if err != nil {
			return a.reject(c, err)
		}
		store(c, user)
		return c.Next()
	}
}

// Identify is the websocket flavour of Auth: browsers cannot set headers on an
// upgrade request, so the token may also arrive as the "token" query
// parameter. A missing or invalid token does not fail the request; the
// connection continues as the anonymous principal and is refused by the chat
// engine at admission.
func (a *Authenticator) Identify() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := a.authenticate(c)
		if err != nil {
			if !errors.Is(err, errNoToken) {
				a.logger.Debug("anonymous websocket upgrade", zap.Error(err))
			}
			c.Locals(LocalPrincipal, chat.AnonymousPrincipal)
			return c.Next()
		}
		store(c, user)
		return c.Next()
	}
}

func (a *Authenticator) authenticate(c *fiber.Ctx) (*models.User, error) {
	tokenStr := bearerToken(c)
	if tokenStr == "" {
		return nil, errNoToken
	}

	claims := &Claims{}
	if _, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return nil, &authError{msg: "invalid token", err: err}
	}

	// claims.Subject is the standard JWT "sub" field — the identity provider's user ID
	if claims.Subject == "" {
		return nil, &authError{msg: "token missing subject"}
	}

	username := claims.Username
	if username == "" {
		username = claims.Name
	}
	if username == "" {
		username = claims.Subject
	}

	user, err := a.users.SyncUser(c.UserContext(), claims.Subject, username, roleFromClaim(claims.Role))
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) reject(c *fiber.Ctx, err error) error {
	var authErr *authError
	switch {
	case errors.Is(err, errNoToken):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing or invalid authorization header",
		})
	case errors.As(err, &authErr):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": authErr.msg})
	default:
		a.logger.Error("sync user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}
}

type authError struct {
	msg string
	err error
}

func (e *authError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *authError) Unwrap() error { return e.err }

// bearerToken reads "Authorization: Bearer <token>" and falls back to ?token=.
func bearerToken(c *fiber.Ctx) string {
	if authHeader := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.Query("token")
}

func store(c *fiber.Ctx, user *models.User) {
	c.Locals(LocalUserID, user.ID.String())
	c.Locals(LocalUserRole, string(user.Role))
	c.Locals(LocalPrincipal, chat.Principal{UserID: user.ID.String(), Name: user.Username})
}

// roleFromClaim converts the raw role claim into our typed UserRole.
// An empty claim keeps whatever role the database already has.
func roleFromClaim(s string) models.UserRole {
	switch s {
	case "":
		return ""
	case "admin":
		return models.UserRoleAdmin
	default:
		// Unknown role — least privileged
		return models.UserRoleUser
	}
}

// PrincipalFrom returns the principal stored by Auth or Identify.
func PrincipalFrom(c *fiber.Ctx) chat.Principal {
	if p, ok := c.Locals(LocalPrincipal).(chat.Principal); ok {
		return p
	}
	return chat.AnonymousPrincipal
}
