package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spacestate/statusd/internal/actions"
	"github.com/spacestate/statusd/internal/spaceapi"
)

var (
	errMissingActionService = errors.New("action service dependency required")
	errMissingAuthGate      = errors.New("auth gate dependency required")
)

// Dependencies wires the HTTP layer to the core.
type Dependencies struct {
	Actions  *actions.Service
	Gate     *AuthGate
	SpaceAPI *spaceapi.Document
	Logger   *zap.Logger
}

// NewHTTPHandler builds the router for API version 0.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Actions == nil {
		return nil, errMissingActionService
	}
	if deps.Gate == nil {
		return nil, errMissingAuthGate
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.Use(deps.Gate.Middleware())

	handler := &httpHandler{
		actions:  deps.Actions,
		spaceapi: deps.SpaceAPI,
		logger:   logger,
	}

	router.GET("/api/versions", handler.handleVersions)
	router.PUT("/api/v0", handler.handleCreateAction)
	router.GET("/api/v0/:type", handler.handleQuery)
	router.GET("/api/v0/:type/:sub", handler.handleSubResource)
	if deps.SpaceAPI != nil {
		router.GET("/spaceapi", handler.handleSpaceAPI)
	}

	return router, nil
}

type httpHandler struct {
	actions  *actions.Service
	spaceapi *spaceapi.Document
	logger   *zap.Logger
}

func (h *httpHandler) handleVersions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"versions": []int{0}})
}

// actionRequestPayload is the wire shape of PUT /api/v0. The type field
// selects which of the remaining fields are consulted. from and to accept an
// integer timestamp or the string forms now, now+K, now-K.
type actionRequestPayload struct {
	Type   string          `json:"type"`
	User   string          `json:"user"`
	Note   string          `json:"note"`
	Status string          `json:"status"`
	Method string          `json:"method"`
	AID    uint64          `json:"aid"`
	From   json.RawMessage `json:"from"`
	To     json.RawMessage `json:"to"`
	Public *bool           `json:"public"`
}

func (h *httpHandler) handleCreateAction(c *gin.Context) {
	if !requireAuth(c) {
		return
	}

	var request actionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := actions.ValidateUserName(request.User)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	note, err := actions.ValidateNote(request.Note)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch actions.Type(request.Type) {
	case actions.TypeStatus:
		status, err := actions.ParseStatus(request.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := h.actions.SubmitStatus(user, status, note)
		if err != nil {
			h.writeActionError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	case actions.TypeAnnouncement:
		h.createAnnouncement(c, request, user, note)
	case actions.TypePresence:
		entry := h.actions.RecordPresence(user)
		c.JSON(http.StatusOK, entry)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action type"})
	}
}

func (h *httpHandler) createAnnouncement(c *gin.Context, request actionRequestPayload, user, note string) {
	method, err := actions.ParseMethod(request.Method)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := h.actions.Now()
	req := actions.AnnouncementRequest{
		Method: method,
		AID:    request.AID,
		User:   user,
		Note:   note,
	}
	if request.Public != nil {
		req.Public = *request.Public
	}
	if method != actions.MethodDel {
		from, err := resolveWireTime(request.From, now)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad parameter: from"})
			return
		}
		to, err := resolveWireTime(request.To, now)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad parameter: to"})
			return
		}
		req.From = from
		req.To = to
	}

	created, err := h.actions.SubmitAnnouncement(req)
	if err != nil {
		h.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *httpHandler) handleQuery(c *gin.Context) {
	sel, err := actions.ParseSelector(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter, err := actions.ParseFilter(sel, c.Request.URL.Query(), h.actions.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	authenticated := isAuthenticated(c)
	if !authenticated && filter.RequiresAuth() {
		c.Header("WWW-Authenticate", "Basic")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	matches, err := h.actions.Query(filter)
	if err != nil {
		h.writeActionError(c, err)
		return
	}
	if !authenticated {
		matches = actions.RedactAll(matches)
	}
	c.JSON(http.StatusOK, gin.H{"actions": matches})
}

// handleSubResource dispatches /api/v0/{type}/{current|current.ics|stream}.
func (h *httpHandler) handleSubResource(c *gin.Context) {
	typeParam := c.Param("type")
	switch c.Param("sub") {
	case "current":
		switch typeParam {
		case string(actions.TypeStatus):
			h.handleStatusCurrent(c)
		case string(actions.TypeAnnouncement):
			h.handleAnnouncementCurrent(c)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		}
	case "current.ics":
		if typeParam != string(actions.TypeAnnouncement) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.handleAnnouncementICS(c)
	case "stream":
		h.handleStream(c)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

func (h *httpHandler) handleStatusCurrent(c *gin.Context) {
	if isAuthenticated(c) {
		last, changed, ok := h.actions.CurrentStatus()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no status recorded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"last": last, "changed": changed})
		return
	}

	changed, ok := h.actions.PublicChangedStatus()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status recorded"})
		return
	}
	redacted, _ := actions.Redact(changed)
	c.JSON(http.StatusOK, gin.H{"changed": redacted})
}

// announcementPayload is the wire shape of a folded announcement entity.
type announcementPayload struct {
	AID    uint64 `json:"aid"`
	User   string `json:"user,omitempty"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
	Public bool   `json:"public"`
	Note   string `json:"note,omitempty"`
}

func (h *httpHandler) handleAnnouncementCurrent(c *gin.Context) {
	authenticated := isAuthenticated(c)
	entities := h.actions.CurrentAnnouncements(!authenticated)
	payload := make([]announcementPayload, 0, len(entities))
	for _, entity := range entities {
		item := announcementPayload{
			AID:    entity.AID,
			From:   entity.From,
			To:     entity.To,
			Public: entity.Public,
			Note:   entity.Note,
		}
		if authenticated {
			item.User = entity.User
		}
		payload = append(payload, item)
	}
	c.JSON(http.StatusOK, gin.H{"announcements": payload})
}

func (h *httpHandler) handleSpaceAPI(c *gin.Context) {
	changed, ok := h.actions.PublicChangedStatus()
	open := ok && actions.PublicStatus(changed.Status) == actions.StatusPublic
	var lastchange int64
	if ok {
		lastchange = changed.Time
	}
	rendered, err := h.spaceapi.Render(open, lastchange)
	if err != nil {
		h.logger.Error("spaceapi render failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", rendered)
}

// writeActionError maps the core error taxonomy onto HTTP statuses. Storage
// failures are logged and fatal to the request only.
func (h *httpHandler) writeActionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, actions.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, actions.ErrUnauthorized):
		c.Header("WWW-Authenticate", "Basic")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, actions.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, actions.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("action request failed",
			zap.String("kind", actions.ErrorKind(err)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// resolveWireTime accepts an integer timestamp, a float (rounded), or a
// relative token string from a write body.
func resolveWireTime(raw json.RawMessage, now int64) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing time value")
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return actions.ResolveTimeValue(s, now)
	}
	if ts, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return ts, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return int64(f + 0.5), nil
}
