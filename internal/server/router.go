package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks"
)

const serviceName = "grimoire-api"

var (
	errMissingCatalogService = errors.New("catalog service dependency required")
	errMissingDeckService    = errors.New("deck service dependency required")
)

type Dependencies struct {
	Catalog *catalog.Service
	Decks   *decks.Service
	Logger  *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Catalog == nil {
		return nil, errMissingCatalogService
	}
	if deps.Decks == nil {
		return nil, errMissingDeckService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		catalog: deps.Catalog,
		decks:   deps.Decks,
		logger:  logger,
	}

	router.GET("/healthz", handler.handleHealth)

	router.GET("/cards", handler.handleSearchCards)
	router.GET("/cards/:external_id", handler.handleGetCard)
	router.POST("/cards/import", handler.handleImportCard)
	router.POST("/cards/import/batch", handler.handleImportCards)

	router.POST("/decks", handler.handleCreateDeck)
	router.GET("/decks", handler.handleListDecks)
	router.POST("/decks/import", handler.handleImportDecks)
	router.GET("/decks/by-name/:name", handler.handleGetDeckByName)
	router.DELETE("/decks/by-name/:name", handler.handleDeleteDeckByName)
	router.GET("/decks/:id", handler.handleGetDeck)
	router.PATCH("/decks/:id", handler.handleUpdateDeck)
	router.DELETE("/decks/:id", handler.handleDeleteDeck)
	router.POST("/decks/:id/cards", handler.handleAddCard)
	router.PUT("/decks/:id/cards/:external_id", handler.handleSetCardQuantity)
	router.DELETE("/decks/:id/cards/:external_id", handler.handleRemoveCard)
	router.GET("/decks/:id/expanded", handler.handleExpandDeck)
	router.GET("/decks/:id/export", handler.handleExportDeck)
	router.GET("/decks/:id/export/decklist", handler.handleExportDecklist)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Content-Type", "Traceparent", "Tracestate"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	catalog *catalog.Service
	decks   *decks.Service
	logger  *zap.Logger
}

// respondError maps a service error onto an HTTP status and a {"error","code"} body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	code := apperr.CodeOf(err)
	reason := "internal_error"
	if code != "" {
		reason = code[strings.LastIndex(code, ".")+1:]
	} else {
		code = "internal_error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, decks.ErrInvalidDeck),
		errors.Is(err, catalog.ErrInvalidRequest),
		errors.Is(err, cards.ErrInvalidCard):
		return http.StatusBadRequest
	case errors.Is(err, decks.ErrDeckNotFound),
		errors.Is(err, decks.ErrReferenceNotFound),
		errors.Is(err, catalog.ErrCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, decks.ErrDeckNameConflict),
		errors.Is(err, decks.ErrWouldEmptyDeck):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason, "code": "request." + reason})
}

// pageParams reads limit and skip. Zero limit lets the service pick its default.
func pageParams(c *gin.Context) (int, int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		return 0, 0, false
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		return 0, 0, false
	}
	return limit, skip, true
}

type healthResponsePayload struct {
	Status string `json:"status"`
	Cards  int64  `json:"cards"`
	Decks  int64  `json:"decks"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	cardCount, err := h.catalog.Count(c.Request.Context(), cards.SearchFilter{})
	if err != nil {
		h.respondError(c, err)
		return
	}
	page, err := h.decks.List(c.Request.Context(), decks.ListFilter{}, 1, 0)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, healthResponsePayload{Status: "ok", Cards: cardCount, Decks: page.Total})
}
