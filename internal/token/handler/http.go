// Package handler exposes token management and the device-facing enrollment
// endpoint over HTTP.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"credential-server/backend/internal/api"
	auditpkg "credential-server/backend/internal/audit"
	auditdomain "credential-server/backend/internal/audit/domain"
	challengerepo "credential-server/backend/internal/challenge/repository"
	"credential-server/backend/internal/token"
	"credential-server/backend/internal/token/push"
)

type TokenHandler struct {
	engine     *token.Engine
	pushVar    *push.Variant
	challenges challengerepo.Repository
	auditor    auditpkg.AuditLogger
}

// NewTokenHandler creates the handler for token management and the push
// device channel.
func NewTokenHandler(engine *token.Engine, pushVar *push.Variant, challenges challengerepo.Repository, auditor auditpkg.AuditLogger) *TokenHandler {
	if auditor == nil {
		auditor = auditpkg.Nop()
	}
	return &TokenHandler{engine: engine, pushVar: pushVar, challenges: challenges, auditor: auditor}
}

type initRequest struct {
	Type   string `json:"type" form:"type"`
	Serial string `json:"serial" form:"serial"`
	User   string `json:"user" form:"user"`
	Realm  string `json:"realm" form:"realm"`
	PIN    string `json:"pin" form:"pin"`
	Genkey string `json:"genkey" form:"genkey"`
}

// Init handles POST /token/init (operator-authenticated).
func (h *TokenHandler) Init(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "invalid request: %v", err)))
		return
	}
	detail, err := h.engine.InitToken(c.Request.Context(), token.Params{
		"type":   req.Type,
		"serial": req.Serial,
		"user":   req.User,
		"realm":  req.Realm,
		"pin":    req.PIN,
		"genkey": req.Genkey,
		"client": c.ClientIP(),
	})
	serial := req.Serial
	if detail != nil {
		if s, ok := detail["serial"].(string); ok {
			serial = s
		}
	}
	h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
		Username: req.User, Realm: req.Realm, Serial: serial,
		Action: auditdomain.ActionEnrollStart, Success: err == nil,
	})
	if err != nil {
		c.JSON(api.Fail(err))
		return
	}
	c.JSON(http.StatusOK, api.OKValue(true, detail))
}

type pushRequest struct {
	Serial               string `json:"serial" form:"serial"`
	EnrollmentCredential string `json:"enrollment_credential" form:"enrollment_credential"`
	FBToken              string `json:"fbtoken" form:"fbtoken"`
	Pubkey               string `json:"pubkey" form:"pubkey"`
	Nonce                string `json:"nonce" form:"nonce"`
	Signature            string `json:"signature" form:"signature"`
}

// Push handles POST /ttype/push, the unauthenticated device channel. The
// payload shape selects between enrollment step 2 and challenge confirmation.
func (h *TokenHandler) Push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "invalid request: %v", err)))
		return
	}
	if req.Nonce != "" && req.Signature != "" {
		h.confirm(c, req)
		return
	}
	detail, err := h.engine.ContinueEnrollment(c.Request.Context(), push.TokenType, token.Params{
		"serial":                req.Serial,
		"enrollment_credential": req.EnrollmentCredential,
		"fbtoken":               req.FBToken,
		"pubkey":                req.Pubkey,
	})
	if err != nil {
		h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
			Serial: req.Serial, Action: auditdomain.ActionEnrollReject, Info: err.Error(),
		})
		c.JSON(api.Fail(err))
		return
	}
	h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
		Serial: req.Serial, Action: auditdomain.ActionEnrollComplete, Success: true,
	})
	c.JSON(http.StatusOK, api.OKValue(true, detail))
}

func (h *TokenHandler) confirm(c *gin.Context, req pushRequest) {
	tok, err := h.engine.Tokens().GetBySerial(c.Request.Context(), req.Serial)
	if err != nil {
		c.JSON(api.Fail(err))
		return
	}
	if tok == nil || tok.Type != push.TokenType {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "no push token with serial %s", req.Serial)))
		return
	}
	if err := h.pushVar.ConfirmAnswer(c.Request.Context(), tok, req.Nonce, req.Signature); err != nil {
		h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
			Serial: req.Serial, Action: auditdomain.ActionConfirmReject, Info: err.Error(),
		})
		c.JSON(api.Fail(err))
		return
	}
	h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
		Serial: req.Serial, Action: auditdomain.ActionConfirm, Success: true,
	})
	c.JSON(http.StatusOK, api.OKValue(true, nil))
}

// Delete handles DELETE /token/:serial (operator-authenticated). Pending
// challenges of the token are removed with it.
func (h *TokenHandler) Delete(c *gin.Context) {
	serial := c.Param("serial")
	if serial == "" {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "missing serial")))
		return
	}
	if err := h.challenges.DeleteBySerial(c.Request.Context(), serial); err != nil {
		c.JSON(api.Fail(err))
		return
	}
	if err := h.engine.Tokens().Delete(c.Request.Context(), serial); err != nil {
		c.JSON(api.Fail(err))
		return
	}
	h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
		Serial: serial, Action: auditdomain.ActionTokenDelete, Success: true,
	})
	c.JSON(http.StatusOK, api.OKValue(true, nil))
}

type setPINRequest struct {
	Serial string `json:"serial" form:"serial" binding:"required"`
	PIN    string `json:"otppin" form:"otppin" binding:"required"`
}

// SetPIN handles POST /token/setpin (operator-authenticated).
func (h *TokenHandler) SetPIN(c *gin.Context) {
	var req setPINRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "invalid request: %v", err)))
		return
	}
	if err := h.engine.SetPIN(c.Request.Context(), req.Serial, req.PIN); err != nil {
		c.JSON(api.Fail(err))
		return
	}
	h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
		Serial: req.Serial, Action: auditdomain.ActionSetPIN, Success: true,
	})
	c.JSON(http.StatusOK, api.OKValue(true, nil))
}

type assignRequest struct {
	Serial string `json:"serial" form:"serial" binding:"required"`
	User   string `json:"user" form:"user" binding:"required"`
	Realm  string `json:"realm" form:"realm"`
}

// Assign handles POST /token/assign (operator-authenticated).
func (h *TokenHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(api.Fail(api.NewError(api.CodeParameter, "invalid request: %v", err)))
		return
	}
	if err := h.engine.AssignOwner(c.Request.Context(), req.Serial, req.User, req.Realm); err != nil {
		c.JSON(api.Fail(err))
		return
	}
	h.auditor.LogEvent(c.Request.Context(), auditpkg.Event{
		Username: req.User, Realm: req.Realm, Serial: req.Serial,
		Action: auditdomain.ActionAssign, Success: true,
	})
	c.JSON(http.StatusOK, api.OKValue(true, nil))
}

// RegisterRoutes mounts the handler's routes. authRequired guards the
// operator endpoints; the device channel stays open.
func (h *TokenHandler) RegisterRoutes(r *gin.Engine, authRequired gin.HandlerFunc) {
	tokens := r.Group("/token", authRequired)
	{
		tokens.POST("/init", h.Init)
		tokens.POST("/setpin", h.SetPIN)
		tokens.POST("/assign", h.Assign)
		tokens.DELETE("/:serial", h.Delete)
	}
	r.POST("/ttype/push", h.Push)
}
