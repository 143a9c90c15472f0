package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-election-backend/auth"
	"campus-election-backend/models"
	"campus-election-backend/service"
)

// VoteController accepts ballots and serves ballot listings.
type VoteController struct {
	box     *service.BallotBox
	results *service.ResultsPublisher
}

func NewVoteController(box *service.BallotBox, results *service.ResultsPublisher) *VoteController {
	return &VoteController{box: box, results: results}
}

// RegisterRoutes mounts the ballot routes. castGuards run before Cast only.
func (vc *VoteController) RegisterRoutes(api *gin.RouterGroup, castGuards ...gin.HandlerFunc) {
	votes := api.Group("/votes")
	{
		votes.POST("", append(castGuards, vc.Cast)...)
		votes.GET("", vc.ListAll)
		votes.GET("/me", vc.Mine)
		votes.GET("/election/:id", vc.ByElection)
		votes.GET("/candidate/:id", vc.ByCandidate)
	}
	api.GET("/admin/elections/:id/tally", vc.Tally)
}

// VoteRequest is the body of a ballot.
type VoteRequest struct {
	ElectionID  uint `json:"election_id" binding:"required"`
	CandidateID uint `json:"candidate_id" binding:"required"`
}

// Cast records the caller's ballot.
// @Summary Cast a ballot
// @Tags votes
// @Accept json
// @Produce json
// @Param ballot body VoteRequest true "ballot"
// @Success 201 {object} models.Vote
// @Failure 409 {object} ErrorResponse "already voted or candidate not eligible"
// @Failure 422 {object} ErrorResponse "election not open"
// @Router /api/votes [post]
func (vc *VoteController) Cast(c *gin.Context) {
	var req VoteRequest
	if !bindJSON(c, &req) {
		return
	}
	vote, err := vc.box.CastVote(c.Request.Context(), auth.PrincipalFrom(c), req.ElectionID, req.CandidateID)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, vote)
}

func (vc *VoteController) ListAll(c *gin.Context) {
	out, err := vc.box.ListAll(c.Request.Context(), auth.PrincipalFrom(c), intQuery(c, "page", 1), intQuery(c, "limit", 100))
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (vc *VoteController) Mine(c *gin.Context) {
	out, err := vc.box.ListByVoter(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (vc *VoteController) ByElection(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	out, err := vc.box.ListByElection(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (vc *VoteController) ByCandidate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	out, err := vc.box.ListByCandidate(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// TallyReport is the admin dashboard view of a running election.
type TallyReport struct {
	Results       *models.ElectionResults   `json:"results"`
	Discrepancies []models.TallyDiscrepancy `json:"discrepancies"`
	Consistent    bool                      `json:"consistent"`
}

// Tally returns the live tally together with a consistency check of the
// stored counts against the ballots.
func (vc *VoteController) Tally(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p := auth.PrincipalFrom(c)

	res, err := vc.results.LiveTally(ctx, p, id)
	if err != nil {
		Error(c, err)
		return
	}
	diff, err := vc.box.VerifyTally(ctx, p, id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, TallyReport{Results: res, Discrepancies: diff, Consistent: len(diff) == 0})
}
