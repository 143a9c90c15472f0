package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campus-election-backend/auth"
	"campus-election-backend/authz"
	"campus-election-backend/models"
	"campus-election-backend/service"
)

// ElectionController serves election definitions, their positions and
// their published results.
type ElectionController struct {
	registry *service.ElectionRegistry
	gate     *service.CandidacyGate
	results  *service.ResultsPublisher
}

func NewElectionController(registry *service.ElectionRegistry, gate *service.CandidacyGate, results *service.ResultsPublisher) *ElectionController {
	return &ElectionController{registry: registry, gate: gate, results: results}
}

func (ec *ElectionController) RegisterRoutes(api *gin.RouterGroup) {
	elections := api.Group("/elections")
	{
		elections.GET("", ec.List)
		elections.POST("", ec.Create)
		elections.GET("/:id", ec.Get)
		elections.PUT("/:id", ec.Update)
		elections.DELETE("/:id", ec.Delete)
		elections.PUT("/:id/close", ec.Close)
		elections.PUT("/:id/publish-results", ec.PublishResults)
		elections.POST("/:id/positions", ec.AddPosition)
		elections.DELETE("/:id/positions/:position", ec.RemovePosition)
		elections.GET("/:id/positions/:position/candidates", ec.CandidatesByPosition)
		elections.GET("/:id/candidates", ec.Candidates)
		elections.GET("/:id/results", ec.Results)
	}
}

// List returns elections, optionally filtered.
// @Summary List elections
// @Tags elections
// @Produce json
// @Param status query string false "upcoming, ongoing or completed"
// @Param q query string false "title search"
// @Success 200 {array} models.Election
// @Router /api/elections [get]
func (ec *ElectionController) List(c *gin.Context) {
	if err := authz.Require(auth.PrincipalFrom(c), authz.ElectionView); err != nil {
		Error(c, err)
		return
	}
	out, err := ec.registry.List(c.Request.Context(), service.ListFilter{
		Status: models.ElectionStatus(strings.ToLower(c.Query("status"))),
		Query:  c.Query("q"),
	})
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Create defines a new election.
// @Summary Create an election
// @Tags elections
// @Accept json
// @Produce json
// @Param election body service.ElectionInput true "election definition"
// @Success 201 {object} models.Election
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/elections [post]
func (ec *ElectionController) Create(c *gin.Context) {
	var in service.ElectionInput
	if !bindJSON(c, &in) {
		return
	}
	e, err := ec.registry.Create(c.Request.Context(), auth.PrincipalFrom(c), in)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (ec *ElectionController) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := authz.Require(auth.PrincipalFrom(c), authz.ElectionView); err != nil {
		Error(c, err)
		return
	}
	e, err := ec.registry.GetByID(c.Request.Context(), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (ec *ElectionController) Update(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch service.ElectionPatch
	if !bindJSON(c, &patch) {
		return
	}
	e, err := ec.registry.Update(c.Request.Context(), auth.PrincipalFrom(c), id, patch)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (ec *ElectionController) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := ec.registry.Delete(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Close ends voting before the scheduled end time.
func (ec *ElectionController) Close(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	e, err := ec.registry.Close(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (ec *ElectionController) PublishResults(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	e, err := ec.registry.PublishResults(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type positionRequest struct {
	Name string `json:"name" binding:"required"`
}

func (ec *ElectionController) AddPosition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req positionRequest
	if !bindJSON(c, &req) {
		return
	}
	e, err := ec.registry.AddPosition(c.Request.Context(), auth.PrincipalFrom(c), id, req.Name)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (ec *ElectionController) RemovePosition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	e, err := ec.registry.RemovePosition(c.Request.Context(), auth.PrincipalFrom(c), id, c.Param("position"))
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Candidates lists approved candidates; admins may pass all=true to see
// every state.
func (ec *ElectionController) Candidates(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	out, err := ec.gate.ListByElection(c.Request.Context(), auth.PrincipalFrom(c), id, c.Query("all") == "true")
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (ec *ElectionController) CandidatesByPosition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	out, err := ec.gate.ListByElectionAndPosition(c.Request.Context(), auth.PrincipalFrom(c), id, c.Param("position"), c.Query("all") == "true")
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Results returns the published outcome of an election.
// @Summary Election results
// @Tags elections
// @Produce json
// @Success 200 {object} models.ElectionResults
// @Failure 403 {object} ErrorResponse
// @Router /api/elections/{id}/results [get]
func (ec *ElectionController) Results(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := authz.Require(auth.PrincipalFrom(c), authz.ResultsView); err != nil {
		Error(c, err)
		return
	}
	res, err := ec.results.GetResults(c.Request.Context(), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
