package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks"
)

type importDecksRequestPayload struct {
	Decks []decks.DeckInput `json:"decks"`
}

type addCardRequestPayload struct {
	ExternalID string `json:"external_id"`
	Quantity   *int   `json:"quantity"`
}

type setQuantityRequestPayload struct {
	Quantity *int `json:"quantity"`
}

func (h *httpHandler) handleCreateDeck(c *gin.Context) {
	var input decks.DeckInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	deck, err := h.decks.Create(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deck)
}

func (h *httpHandler) handleImportDecks(c *gin.Context) {
	var request importDecksRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Decks) == 0 {
		badRequest(c, "invalid_request")
		return
	}
	result, err := h.decks.ImportDecks(c.Request.Context(), request.Decks)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleListDecks(c *gin.Context) {
	limit, skip, ok := pageParams(c)
	if !ok {
		badRequest(c, "invalid_page")
		return
	}
	page, err := h.decks.List(c.Request.Context(), decks.ListFilter{Format: c.Query("format")}, limit, skip)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleGetDeck(c *gin.Context) {
	deck, err := h.decks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

func (h *httpHandler) handleGetDeckByName(c *gin.Context) {
	deck, err := h.decks.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

func (h *httpHandler) handleUpdateDeck(c *gin.Context) {
	var patch decks.DeckPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	deck, err := h.decks.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

func (h *httpHandler) handleDeleteDeck(c *gin.Context) {
	if err := h.decks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteDeckByName(c *gin.Context) {
	if err := h.decks.DeleteByName(c.Request.Context(), c.Param("name")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddCard(c *gin.Context) {
	var request addCardRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	quantity := 1
	if request.Quantity != nil {
		quantity = *request.Quantity
	}
	deck, err := h.decks.AddCard(c.Request.Context(), c.Param("id"), request.ExternalID, quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

func (h *httpHandler) handleSetCardQuantity(c *gin.Context) {
	var request setQuantityRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Quantity == nil {
		badRequest(c, "invalid_request")
		return
	}
	deck, err := h.decks.SetCardQuantity(c.Request.Context(), c.Param("id"), c.Param("external_id"), *request.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

func (h *httpHandler) handleRemoveCard(c *gin.Context) {
	deck, err := h.decks.RemoveCard(c.Request.Context(), c.Param("id"), c.Param("external_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

func (h *httpHandler) handleExpandDeck(c *gin.Context) {
	expanded, err := h.decks.Expand(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, expanded)
}

func (h *httpHandler) handleExportDeck(c *gin.Context) {
	export, err := h.decks.ExportStructured(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (h *httpHandler) handleExportDecklist(c *gin.Context) {
	decklist, err := h.decks.ExportDecklist(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.String(http.StatusOK, decklist)
}
