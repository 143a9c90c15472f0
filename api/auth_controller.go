package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campus-election-backend/auth"
	"campus-election-backend/authz"
	"campus-election-backend/errs"
)

// TokenController issues tokens for local development, where no external
// identity provider is available.
type TokenController struct {
	tokens *auth.Tokens
}

func NewTokenController(tokens *auth.Tokens) *TokenController {
	return &TokenController{tokens: tokens}
}

func (tc *TokenController) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/auth/token", tc.Issue)
}

// TokenResponse carries a signed bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (tc *TokenController) Issue(c *gin.Context) {
	var p authz.Principal
	if !bindJSON(c, &p) {
		return
	}
	if !p.Authenticated() {
		Error(c, errs.Validation("user_id and a valid role are required"))
		return
	}
	token, exp, err := tc.tokens.Issue(p)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: exp})
}
