package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/cards"
)

type importCardRequestPayload struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	Refresh    bool   `json:"refresh"`
}

type importCardsRequestPayload struct {
	Names []string `json:"names"`
}

func (h *httpHandler) handleGetCard(c *gin.Context) {
	card, found, err := h.catalog.Get(c.Request.Context(), c.Param("external_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "code": "catalog.get.not_found"})
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *httpHandler) handleImportCard(c *gin.Context) {
	var request importCardRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	name := strings.TrimSpace(request.Name)
	externalID := strings.TrimSpace(request.ExternalID)
	if (name == "") == (externalID == "") {
		badRequest(c, "name_or_external_id_required")
		return
	}

	var (
		card cards.Card
		err  error
	)
	if externalID != "" {
		card, err = h.catalog.ImportByID(c.Request.Context(), externalID, request.Refresh)
	} else {
		card, err = h.catalog.ImportByName(c.Request.Context(), name, request.Refresh)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *httpHandler) handleImportCards(c *gin.Context) {
	var request importCardsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Names) == 0 {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.catalog.ImportByNames(c.Request.Context(), request.Names)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSearchCards(c *gin.Context) {
	limit, skip, ok := pageParams(c)
	if !ok {
		badRequest(c, "invalid_page")
		return
	}
	filter := cards.SearchFilter{
		Name:     c.Query("name"),
		TypeLine: c.Query("type_line"),
		Rarity:   c.Query("rarity"),
	}
	if colors := strings.TrimSpace(c.Query("colors")); colors != "" {
		filter.Colors = strings.Split(colors, ",")
	}

	page, err := h.catalog.Search(c.Request.Context(), filter, limit, skip)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
