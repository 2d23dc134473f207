package apiv1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/common"
	"github.com/beam-cloud/conceptstore/pkg/repository"
)

type HealthGroup struct {
	redisClient *common.RedisClient
	postgres    *repository.PostgresBackend
	routerGroup *echo.Group
}

// NewHealthGroup registers the health check. Redis and Postgres are only
// checked when configured.
func NewHealthGroup(g *echo.Group, rdb *common.RedisClient, pg *repository.PostgresBackend) *HealthGroup {
	group := &HealthGroup{routerGroup: g, redisClient: rdb, postgres: pg}

	g.GET("", group.HealthCheck)

	return group
}

func (h *HealthGroup) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("health check failed: redis")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"status": "not ok",
				"error":  err.Error(),
			})
		}
	}

	if h.postgres != nil {
		if err := h.postgres.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check failed: postgres")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"status": "not ok",
				"error":  err.Error(),
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
