package apiv1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/conceptstore/pkg/auth"
	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/gateway/services"
)

// FilesGroup writes raw files without index maintenance
type FilesGroup struct {
	routerGroup *echo.Group
	service     *services.ConceptService
}

func NewFilesGroup(g *echo.Group, service *services.ConceptService) *FilesGroup {
	group := &FilesGroup{routerGroup: g, service: service}

	g.POST("", group.CreateFile)

	return group
}

// CreateFileRequest carries base64 content, as the contents API does
type CreateFileRequest struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch,omitempty"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Content string `json:"content"`
	Sha     string `json:"sha,omitempty"`
}

type CreateFileResponse struct {
	Path     string `json:"path"`
	Revision string `json:"sha"`
}

func (g *FilesGroup) CreateFile(c echo.Context) error {
	var req CreateFileRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	if req.Owner == "" || req.Repo == "" || req.Path == "" {
		return ErrorResponse(c, http.StatusBadRequest, "owner, repo and path required")
	}

	raw, err := content.DecodeBase64(req.Content)
	if err != nil {
		return HandleError(c, err)
	}

	ctx := c.Request().Context()
	t := content.Target{Owner: req.Owner, Repo: req.Repo, Branch: req.Branch, Token: auth.Token(ctx)}

	revision, err := g.service.PutFile(ctx, t, req.Path, raw, req.Message, req.Sha)
	if err != nil {
		return HandleError(c, err)
	}
	return CreatedResponse(c, CreateFileResponse{Path: req.Path, Revision: revision})
}
