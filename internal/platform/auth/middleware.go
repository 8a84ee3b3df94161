package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
)

type contextKey string

const actorKey contextKey = "actor"

// Claims carries the actor in a bearer token. CentreID is empty for actors
// that are not bound to a centre.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	CentreID string `json:"centre_id,omitempty"`
}

// Actor converts verified claims into an actor.
func (c *Claims) Actor() (identity.Actor, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return identity.Actor{}, fmt.Errorf("subject is not a user id: %w", err)
	}
	role, err := identity.ParseRole(c.Role)
	if err != nil {
		return identity.Actor{}, err
	}
	a := identity.Actor{ID: id, Role: role}
	if c.CentreID != "" {
		cid, err := uuid.Parse(c.CentreID)
		if err != nil {
			return identity.Actor{}, fmt.Errorf("centre_id: %w", err)
		}
		a.CentreID = &cid
	}
	return a, nil
}

// ActorResolver reloads the principal behind a token so that role changes and
// deactivations apply before the token expires.
type ActorResolver interface {
	ResolveActor(ctx context.Context, id uuid.UUID) (identity.Actor, error)
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification for development tokens.
	SigningKey []byte
	Resolver   ActorResolver
	Skipper    func(echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	if len(cfg.SigningKey) == 0 && cfg.JWKSURL != "" {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}
	methods := []string{"RS256"}
	if len(cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			ctx := c.Request().Context()
			var keyfunc jwt.Keyfunc
			switch {
			case len(cfg.SigningKey) > 0:
				keyfunc = func(*jwt.Token) (any, error) { return cfg.SigningKey, nil }
			case jwks != nil:
				keyfunc = jwks.keyfunc(ctx)
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "token verification is not configured")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, keyfunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := claims.Actor()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
			}
			if cfg.Resolver != nil {
				actor, err = cfg.Resolver.ResolveActor(ctx, actor.ID)
				if err != nil {
					if apperror.Is(err, apperror.KindNotAuthorized) {
						return echo.NewHTTPError(http.StatusUnauthorized, "unknown or inactive user")
					}
					return apperror.HTTP(err)
				}
			}

			c.Set("actor", actor.String())
			c.SetRequest(c.Request().WithContext(WithActor(ctx, actor)))
			return next(c)
		}
	}
}

func WithActor(ctx context.Context, a identity.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (identity.Actor, bool) {
	a, ok := ctx.Value(actorKey).(identity.Actor)
	return a, ok
}

// CurrentActor is ActorFromContext for handlers; a missing actor is a 401.
func CurrentActor(c echo.Context) (identity.Actor, error) {
	a, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return identity.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return a, nil
}
