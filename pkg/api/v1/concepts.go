package apiv1

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/conceptstore/pkg/auth"
	"github.com/beam-cloud/conceptstore/pkg/content"
	"github.com/beam-cloud/conceptstore/pkg/gateway/services"
	"github.com/beam-cloud/conceptstore/pkg/index"
)

// ConceptsGroup serves concept objects, directory indexes and the
// repository config under /repos/:owner/:repo
type ConceptsGroup struct {
	routerGroup *echo.Group
	service     *services.ConceptService
}

func NewConceptsGroup(g *echo.Group, service *services.ConceptService) *ConceptsGroup {
	group := &ConceptsGroup{routerGroup: g, service: service}
	group.registerRoutes()
	return group
}

func (g *ConceptsGroup) registerRoutes() {
	g.routerGroup.GET("/concepts/*", g.GetConcept)
	g.routerGroup.POST("/concepts/*", g.AddConcept)
	g.routerGroup.PUT("/concepts/*", g.UpdateConcept)
	g.routerGroup.DELETE("/concepts/*", g.DeleteConcept)

	g.routerGroup.POST("/concepts-new", g.CreateConcept)
	g.routerGroup.POST("/concepts-new/*", g.CreateConcept)

	g.routerGroup.GET("/index", g.GetIndex)
	g.routerGroup.GET("/index/*", g.GetIndex)
	g.routerGroup.GET("/lookup", g.Lookup)
	g.routerGroup.GET("/lookup/*", g.Lookup)

	g.routerGroup.POST("/rebuild", g.Rebuild)
	g.routerGroup.GET("/rebuilds", g.ListRebuilds)
	g.routerGroup.GET("/search", g.Search)

	g.routerGroup.GET("/config", g.GetConfig)
	g.routerGroup.PUT("/config", g.PutConfig)
}

func target(c echo.Context) content.Target {
	return content.Target{
		Owner:  c.Param("owner"),
		Repo:   c.Param("repo"),
		Branch: c.QueryParam("branch"),
		Token:  auth.Token(c.Request().Context()),
	}
}

func wildcard(c echo.Context) string {
	p := c.Param("*")
	if unescaped, err := url.PathUnescape(p); err == nil {
		return unescaped
	}
	return p
}

func writeOptions(c echo.Context) services.WriteOptions {
	return services.WriteOptions{
		IndexName: c.QueryParam("index_name"),
		Message:   c.QueryParam("message"),
	}
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(c.Request().Body)
}

type ObjectResponse struct {
	Path     string          `json:"path"`
	Revision string          `json:"sha"`
	Content  json.RawMessage `json:"content,omitempty"`
	Raw      string          `json:"raw,omitempty"`
}

func (g *ConceptsGroup) GetConcept(c echo.Context) error {
	blob, err := g.service.GetObject(c.Request().Context(), target(c), wildcard(c))
	if err != nil {
		return HandleError(c, err)
	}

	resp := ObjectResponse{Path: blob.Path, Revision: blob.Revision}
	if json.Valid(blob.Content) {
		resp.Content = json.RawMessage(blob.Content)
	} else {
		resp.Raw = string(blob.Content)
	}
	return SuccessResponse(c, resp)
}

func (g *ConceptsGroup) AddConcept(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return HTTPBadRequest("invalid body")
	}

	res, err := g.service.OnObjectAdded(c.Request().Context(), target(c), wildcard(c), body, writeOptions(c))
	if err != nil {
		return HandleError(c, err)
	}
	return CreatedResponse(c, res)
}

func (g *ConceptsGroup) UpdateConcept(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return HTTPBadRequest("invalid body")
	}

	res, err := g.service.OnObjectUpdated(c.Request().Context(), target(c), wildcard(c), body, c.QueryParam("sha"), writeOptions(c))
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, res)
}

func (g *ConceptsGroup) DeleteConcept(c echo.Context) error {
	res, err := g.service.OnObjectDeleted(c.Request().Context(), target(c), wildcard(c), c.QueryParam("sha"), writeOptions(c))
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, res)
}

func (g *ConceptsGroup) CreateConcept(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return HTTPBadRequest("invalid body")
	}

	res, err := g.service.CreateConcept(c.Request().Context(), target(c), wildcard(c), body, writeOptions(c))
	if err != nil {
		return HandleError(c, err)
	}
	return CreatedResponse(c, res)
}

type IndexResponse struct {
	Path     string          `json:"path"`
	Revision string          `json:"sha"`
	Format   string          `json:"format"`
	Index    *index.Document `json:"index"`
}

func (g *ConceptsGroup) GetIndex(c echo.Context) error {
	dir := wildcard(c)
	name := c.QueryParam("name")

	doc, revision, err := g.service.GetIndex(c.Request().Context(), target(c), dir, name)
	if err != nil {
		return HandleError(c, err)
	}

	if name == "" {
		name = index.DefaultIndexName
	}
	return SuccessResponse(c, IndexResponse{
		Path:     index.IndexPath(dir, name),
		Revision: revision,
		Format:   doc.Format.String(),
		Index:    doc,
	})
}

func (g *ConceptsGroup) Lookup(c echo.Context) error {
	res, err := g.service.Lookup(c.Request().Context(), target(c), wildcard(c),
		c.QueryParam("name"), c.QueryParam("key"), c.QueryParam("type"))
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, res)
}

func (g *ConceptsGroup) Rebuild(c echo.Context) error {
	var req index.RebuildRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}

	ctx := c.Request().Context()
	report, err := g.service.OnRebuildRequested(ctx, target(c), req, auth.Login(ctx))
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, report)
}

func (g *ConceptsGroup) ListRebuilds(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ErrorResponse(c, http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	runs, err := g.service.RebuildHistory(c.Request().Context(), target(c), limit)
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, runs)
}

func (g *ConceptsGroup) Search(c echo.Context) error {
	res, err := g.service.Search(c.Request().Context(), target(c), c.QueryParam("q"), c.QueryParam("scope"))
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, res)
}

func (g *ConceptsGroup) GetConfig(c echo.Context) error {
	bootstrap, _ := strconv.ParseBool(c.QueryParam("bootstrap"))

	res, err := g.service.GetConfig(c.Request().Context(), target(c), bootstrap)
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, res)
}

func (g *ConceptsGroup) PutConfig(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return HTTPBadRequest("invalid body")
	}

	res, err := g.service.PutConfig(c.Request().Context(), target(c), body, c.QueryParam("sha"))
	if err != nil {
		return HandleError(c, err)
	}
	return SuccessResponse(c, res)
}
