package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-election-backend/auth"
	"campus-election-backend/service"
)

// CandidateController serves candidacies and their review.
type CandidateController struct {
	gate *service.CandidacyGate
}

func NewCandidateController(gate *service.CandidacyGate) *CandidateController {
	return &CandidateController{gate: gate}
}

func (cc *CandidateController) RegisterRoutes(api *gin.RouterGroup) {
	candidates := api.Group("/candidates")
	{
		candidates.POST("", cc.Submit)
		candidates.GET("/search", cc.Search)
		candidates.GET("/me", cc.Mine)
		candidates.DELETE("/me/:electionId", cc.Withdraw)
		candidates.GET("/:id", cc.Get)
		candidates.PUT("/:id", cc.Update)
		candidates.DELETE("/:id", cc.Delete)
		candidates.PUT("/:id/approve", cc.Approve)
		candidates.PUT("/:id/disqualify", cc.Disqualify)
	}
}

// Submit registers a pending candidacy.
// @Summary Stand for a position
// @Tags candidates
// @Accept json
// @Produce json
// @Param candidacy body service.SubmitInput true "candidacy"
// @Success 201 {object} models.Candidate
// @Failure 409 {object} ErrorResponse
// @Router /api/candidates [post]
func (cc *CandidateController) Submit(c *gin.Context) {
	var in service.SubmitInput
	if !bindJSON(c, &in) {
		return
	}
	cand, err := cc.gate.Submit(c.Request.Context(), auth.PrincipalFrom(c), in)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, cand)
}

func (cc *CandidateController) Search(c *gin.Context) {
	out, err := cc.gate.Search(c.Request.Context(), c.Query("q"), intQuery(c, "page", 1), intQuery(c, "limit", 20))
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (cc *CandidateController) Mine(c *gin.Context) {
	p := auth.PrincipalFrom(c)
	out, err := cc.gate.ListByUser(c.Request.Context(), p, p.UserID)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (cc *CandidateController) Withdraw(c *gin.Context) {
	electionID, ok := idParam(c, "electionId")
	if !ok {
		return
	}
	p := auth.PrincipalFrom(c)
	if err := cc.gate.Withdraw(c.Request.Context(), p, p.UserID, electionID); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (cc *CandidateController) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cand, err := cc.gate.GetByID(c.Request.Context(), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (cc *CandidateController) Update(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch service.CandidatePatch
	if !bindJSON(c, &patch) {
		return
	}
	cand, err := cc.gate.Update(c.Request.Context(), auth.PrincipalFrom(c), id, patch)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (cc *CandidateController) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := cc.gate.Delete(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (cc *CandidateController) Approve(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cand, err := cc.gate.Approve(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (cc *CandidateController) Disqualify(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cand, err := cc.gate.Disqualify(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}
