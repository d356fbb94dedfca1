package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Geniusmania/ticket-chat-system/internal/api/dto"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	"github.com/Geniusmania/ticket-chat-system/internal/service"
)

// KnowledgeBaseHandler serves help articles.
type KnowledgeBaseHandler struct {
	service *service.KnowledgeBaseService
}

// NewKnowledgeBaseHandler constructs handler.
func NewKnowledgeBaseHandler(kb *service.KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{service: kb}
}

// List GET /knowledge-base.
func (h *KnowledgeBaseHandler) List(c *fiber.Ctx) error {
	limit, offset, _ := pagination(c.QueryInt("page"), c.QueryInt("page_size", 50))
	list, err := h.service.List(c.UserContext(), repository.ArticleFilter{
		Category:   c.Query("category"),
		SearchTerm: c.Query("q"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, list)
}

// Get GET /knowledge-base/:articleId.
func (h *KnowledgeBaseHandler) Get(c *fiber.Ctx) error {
	article, err := h.service.Get(c.UserContext(), c.Params("articleId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, article)
}

// Create POST /admin/knowledge-base.
func (h *KnowledgeBaseHandler) Create(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.ArticleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.service.Create(c.UserContext(), user, service.ArticleInput(req))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(change)
}

// Update PUT /admin/knowledge-base/:articleId.
func (h *KnowledgeBaseHandler) Update(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.ArticleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.service.Update(c.UserContext(), user, c.Params("articleId"), service.ArticleInput(req))
	if err != nil {
		return err
	}
	return c.JSON(change)
}

// Delete DELETE /admin/knowledge-base/:articleId.
func (h *KnowledgeBaseHandler) Delete(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	change, err := h.service.Delete(c.UserContext(), user, c.Params("articleId"))
	if err != nil {
		return err
	}
	return c.JSON(change)
}
