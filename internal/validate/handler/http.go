// Package handler exposes the authentication endpoint.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"credential-server/backend/internal/api"
	"credential-server/backend/internal/validate"
)

type ValidateHandler struct {
	svc *validate.Service
}

// NewValidateHandler creates the handler for /validate/check.
func NewValidateHandler(svc *validate.Service) *ValidateHandler {
	return &ValidateHandler{svc: svc}
}

type checkRequest struct {
	User          string `json:"user" form:"user"`
	Realm         string `json:"realm" form:"realm"`
	Serial        string `json:"serial" form:"serial"`
	Pass          string `json:"pass" form:"pass"`
	TransactionID string `json:"transaction_id" form:"transaction_id"`
	// State is the legacy alias of transaction_id used by older poll clients.
	State string `json:"state" form:"state"`
}

// Check handles POST /validate/check: both the initial attempt and the
// challenge poll (when transaction_id or state is present).
func (h *ValidateHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "invalid request: %v", err)))
		return
	}
	txid := req.TransactionID
	if txid == "" {
		txid = req.State
	}
	if req.User == "" && req.Serial == "" && txid == "" {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "one of user, serial, or transaction_id is required")))
		return
	}

	res, err := h.svc.Check(c.Request.Context(), validate.Request{
		User:          req.User,
		Realm:         req.Realm,
		Serial:        req.Serial,
		Pass:          req.Pass,
		TransactionID: txid,
		Client:        c.ClientIP(),
	})
	if err != nil {
		c.JSON(api.Fail(err))
		return
	}

	detail := map[string]interface{}{}
	if res.Serial != "" {
		detail["serial"] = res.Serial
	}
	if res.TransactionID != "" {
		detail["transaction_id"] = res.TransactionID
	}
	if res.Message != "" {
		detail["message"] = res.Message
	}
	c.JSON(http.StatusOK, api.OKValue(res.Authenticated, detail))
}

// RegisterRoutes mounts the authentication route. Unauthenticated: the
// credential in the request is the authentication.
func (h *ValidateHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/validate/check", h.Check)
}
