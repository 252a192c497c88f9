// Package server exposes the hosted backend over HTTP: token introspection, table REST endpoints and
// the websocket change feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/auth"
	"github.com/MarcoPoloResearchLab/twogether/internal/backend"
	"github.com/MarcoPoloResearchLab/twogether/internal/realtime"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "twogether_user_id"
	accessTokenParam   = "access_token"
	feedWriteTimeout   = 10 * time.Second
	feedTableParam     = "table"
	feedFilterParam    = "filter"
	maxRequestBodySize = 1 << 20
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingTableService   = errors.New("table service dependency required")
	errMissingFeed           = errors.New("change feed dispatcher dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type TableService interface {
	Upsert(ctx context.Context, actor, table string, row remote.Row) (remote.Event, error)
	Delete(ctx context.Context, actor, table string, filter remote.Filter) ([]remote.Event, error)
	Select(ctx context.Context, actor, table string, filter remote.Filter) ([]remote.Row, error)
	AuthorizeFeed(ctx context.Context, actor, table string, filter remote.Filter) (string, error)
}

type Dependencies struct {
	Tokens         TokenValidator
	Tables         TableService
	Feed           *realtime.Dispatcher[remote.Event]
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Tables == nil {
		return nil, errMissingTableService
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:  deps.Tokens,
		tables:  deps.Tables,
		feed:    deps.Feed,
		origins: origins,
		logger:  logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/v1/user", handler.handleCurrentUser)
	protected.GET("/rest/v1/:table", handler.handleSelect)
	protected.POST("/rest/v1/:table", handler.handleUpsert)
	protected.DELETE("/rest/v1/:table", handler.handleDelete)
	protected.GET("/realtime/v1", handler.handleFeed)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Prefer"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens  TokenValidator
	tables  TableService
	feed    *realtime.Dispatcher[remote.Event]
	origins []string
	logger  *zap.Logger
}

type userResponsePayload struct {
	ID string `json:"id"`
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, userResponsePayload{ID: c.GetString(userIDContextKey)})
}

func (h *httpHandler) handleSelect(c *gin.Context) {
	filter, err := filterFromQuery(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter"})
		return
	}
	rows, err := h.tables.Select(c.Request.Context(), c.GetString(userIDContextKey), c.Param("table"), filter)
	if err != nil {
		h.respondError(c, "select failed", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *httpHandler) handleUpsert(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	var row remote.Row
	if err := c.ShouldBindJSON(&row); err != nil || len(row) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := h.tables.Upsert(c.Request.Context(), c.GetString(userIDContextKey), c.Param("table"), row)
	if err != nil {
		h.respondError(c, "upsert failed", err)
		return
	}
	status := http.StatusOK
	if event.Type == remote.EventInsert {
		status = http.StatusCreated
	}
	c.JSON(status, event.New)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	filter, err := filterFromQuery(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter"})
		return
	}
	if _, err := h.tables.Delete(c.Request.Context(), c.GetString(userIDContextKey), c.Param("table"), filter); err != nil {
		h.respondError(c, "delete failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	table := c.Query(feedTableParam)
	filter, err := remote.ParseFilter(c.Query(feedFilterParam))
	if err != nil || table == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_subscription"})
		return
	}
	topic, err := h.tables.AuthorizeFeed(c.Request.Context(), userID, table, filter)
	if err != nil {
		h.respondError(c, "feed authorization failed", err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("change feed upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	ctx := conn.CloseRead(c.Request.Context())
	stream, cleanup := h.feed.Subscribe(ctx, topic)
	defer cleanup()

	h.logger.Debug("change feed opened", zap.String("topic", topic), zap.String("user_id", userID))
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				h.logger.Debug("change feed write failed", zap.String("topic", topic), zap.Error(err))
				return
			}
		}
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c.Request)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.logger.Debug(message, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, remote.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, remote.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, remote.ErrInvalidFilter):
		return http.StatusBadRequest, "invalid_filter"
	case errors.Is(err, backend.ErrInvalidRow):
		return http.StatusBadRequest, "invalid_row"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	token := strings.TrimSpace(request.URL.Query().Get(accessTokenParam))
	return token, token != ""
}

// filterFromQuery reads the single column=eq.value filter from the query string.
func filterFromQuery(request *http.Request) (remote.Filter, error) {
	query := request.URL.Query()
	query.Del(accessTokenParam)
	if len(query) != 1 {
		return remote.Filter{}, remote.ErrInvalidFilter
	}
	for column, values := range query {
		if len(values) != 1 {
			return remote.Filter{}, remote.ErrInvalidFilter
		}
		return remote.ParseFilter(column + "=" + values[0])
	}
	return remote.Filter{}, remote.ErrInvalidFilter
}
