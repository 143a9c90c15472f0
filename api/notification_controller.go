package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-election-backend/auth"
	"campus-election-backend/repository"
	"campus-election-backend/service"
)

// NotificationController serves the notice board and the audit trail.
type NotificationController struct {
	notices *service.NoticeBoard
	trail   *service.AuditTrail
}

func NewNotificationController(notices *service.NoticeBoard, trail *service.AuditTrail) *NotificationController {
	return &NotificationController{notices: notices, trail: trail}
}

func (nc *NotificationController) RegisterRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		notifications.GET("", nc.List)
		notifications.POST("", nc.Post)
		notifications.GET("/:id", nc.Get)
		notifications.PUT("/:id/read", nc.MarkRead)
		notifications.DELETE("/:id", nc.Delete)
	}
	logs := api.Group("/logs")
	{
		logs.GET("", nc.Logs)
		logs.GET("/:id", nc.Log)
	}
}

func (nc *NotificationController) List(c *gin.Context) {
	out, err := nc.notices.List(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (nc *NotificationController) Post(c *gin.Context) {
	var in service.NotificationInput
	if !bindJSON(c, &in) {
		return
	}
	n, err := nc.notices.Post(c.Request.Context(), auth.PrincipalFrom(c), in)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (nc *NotificationController) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	n, err := nc.notices.Get(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (nc *NotificationController) MarkRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := nc.notices.MarkRead(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (nc *NotificationController) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := nc.notices.Delete(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Logs lists audit entries filtered by action, entity and free text.
func (nc *NotificationController) Logs(c *gin.Context) {
	f := repository.AuditFilter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity"),
		Query:      c.Query("q"),
		Limit:      intQuery(c, "limit", 100),
	}
	out, err := nc.trail.List(c.Request.Context(), auth.PrincipalFrom(c), f, intQuery(c, "page", 1))
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (nc *NotificationController) Log(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	entry, err := nc.trail.Get(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
