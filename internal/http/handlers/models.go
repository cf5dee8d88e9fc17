package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/threadloom/threadloom-backend/internal/http/response"
	"github.com/threadloom/threadloom-backend/internal/llm"
)

type ModelsHandler struct {
	catalog *llm.Catalog
}

func NewModelsHandler(catalog *llm.Catalog) *ModelsHandler {
	return &ModelsHandler{catalog: catalog}
}

func (mh *ModelsHandler) List(c *gin.Context) {
	response.RespondOK(c, gin.H{"models": mh.catalog.Models})
}
