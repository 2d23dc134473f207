package apiv1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/auth"
	"github.com/beam-cloud/conceptstore/pkg/oauth"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

// AuthGroup serves the GitHub OAuth code exchange and the current user
type AuthGroup struct {
	routerGroup *echo.Group
	github      *oauth.GitHubOAuth
	states      *oauth.StateManager
}

func NewAuthGroup(g *echo.Group, github *oauth.GitHubOAuth, states *oauth.StateManager) *AuthGroup {
	group := &AuthGroup{routerGroup: g, github: github, states: states}

	g.GET("/authorize", group.Authorize)
	g.POST("/access-token", group.AccessToken)
	g.GET("/user", auth.WithAuth(group.User))

	return group
}

type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// Authorize returns the GitHub authorization URL with a fresh one-time state
func (g *AuthGroup) Authorize(c echo.Context) error {
	ctx := c.Request().Context()
	redirect := c.QueryParam("redirect")

	state, err := g.states.Issue(ctx, redirect)
	if err != nil {
		return HandleError(c, err)
	}

	url, err := g.github.AuthorizeURL(ctx, state, redirect)
	if err != nil {
		return HandleError(c, err)
	}

	return SuccessResponse(c, AuthorizeResponse{AuthorizeURL: url, State: state})
}

type AccessTokenRequest struct {
	Code     string `json:"code"`
	Redirect string `json:"redirect"`
	State    string `json:"state,omitempty"`
}

// AccessToken exchanges an authorization code for a GitHub token. A
// state, when sent, must be one issued by Authorize and is consumed.
func (g *AuthGroup) AccessToken(c echo.Context) error {
	var req AccessTokenRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	if req.Code == "" {
		return ErrorResponse(c, http.StatusBadRequest, "code required")
	}

	ctx := c.Request().Context()
	if req.State != "" {
		if _, err := g.states.Redeem(ctx, req.State, req.Redirect); err != nil {
			return HandleError(c, err)
		}
	}

	creds, err := g.github.Exchange(ctx, req.Code, req.Redirect)
	if err != nil {
		return HandleError(c, err)
	}

	log.Info().Str("scope", creds.Scope).Msg("oauth code exchanged")
	return SuccessResponse(c, creds)
}

// User returns the GitHub account behind the bearer token
func (g *AuthGroup) User(c echo.Context) error {
	info := auth.AuthInfoFromContext(c.Request().Context())
	if info == nil || info.User == nil {
		return HandleError(c, types.ErrUnauthorized)
	}
	return SuccessResponse(c, info.User)
}
