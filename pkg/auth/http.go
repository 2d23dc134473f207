package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// BearerToken extracts the token from an Authorization header. Both
// "Bearer" and GitHub's legacy "token" schemes are accepted.
func BearerToken(header string) string {
	for _, scheme := range []string{"Bearer ", "bearer ", "token "} {
		if strings.HasPrefix(header, scheme) {
			return strings.TrimSpace(strings.TrimPrefix(header, scheme))
		}
	}
	return ""
}

// HTTPMiddleware resolves the caller's GitHub token and adds AuthInfo to
// the request context. Requests without a token pass through; routes
// must require auth explicitly. With a nil resolver the token is passed
// through unverified.
func HTTPMiddleware(resolver *UserResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				return next(c)
			}

			ctx := c.Request().Context()
			info := &types.AuthInfo{Token: token}

			if resolver != nil {
				user, err := resolver.Resolve(ctx, token)
				switch {
				case errors.Is(err, types.ErrUnauthorized):
					log.Debug().Err(err).Msg("auth: invalid token")
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				case err != nil:
					log.Warn().Err(err).Msg("auth: user lookup failed")
					return c.JSON(http.StatusBadGateway, map[string]string{"error": "user lookup failed"})
				}
				info.User = user
			}

			c.SetRequest(c.Request().WithContext(WithAuthInfo(ctx, info)))
			err := next(c)

			// GitHub refused a token we vouched for from cache
			if resolver != nil && c.Response().Committed && c.Response().Status == http.StatusUnauthorized {
				resolver.Revoke(token)
			}
			return err
		}
	}
}

func WithAuth(h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := RequireAuth(c.Request().Context()); err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
		}
		return h(c)
	}
}

func RequireAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc { return WithAuth(next) }
}
