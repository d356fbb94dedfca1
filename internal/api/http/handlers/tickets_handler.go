package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/api/dto"
	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/service"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const maxFilesPerMessage = 10

// TicketsHandler serves ticket and conversation endpoints for signed-in users.
type TicketsHandler struct {
	tickets *service.TicketService
	engine  *conversation.Engine
	logger  *zap.Logger
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, engine *conversation.Engine, logger *zap.Logger) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, engine: engine, logger: logger.Named("tickets_handler")}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	change, err := h.tickets.CreateTicket(c.UserContext(), user, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Category:    req.Category,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(change)
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var q dto.TicketListQuery
	if err := c.QueryParser(&q); err != nil {
		return apperrors.NewValidationError("invalid query", nil)
	}
	limit, offset, page := pagination(q.Page, q.PageSize)
	filter := service.TicketListFilter{
		Unassigned: q.Unassigned,
		SearchTerm: q.Search,
		Limit:      limit,
		Offset:     offset,
	}
	for _, s := range splitList(q.Status) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(s))
	}
	for _, p := range splitList(q.Priority) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(p))
	}
	if q.Category != "" {
		category := domain.TicketCategory(q.Category)
		filter.Category = &category
	}
	if q.AssigneeID != "" {
		assignee := q.AssigneeID
		filter.AssigneeID = &assignee
	}

	result, err := h.tickets.ListTickets(c.UserContext(), user, filter)
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, dto.TicketListResponse{
		Items:    result.Items,
		Total:    result.Total,
		Page:     page,
		PageSize: limit,
	})
}

// GetTicket GET /tickets/:ticketId.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	thread, err := h.engine.View(c.UserContext(), user, c.Params("ticketId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusOK, dto.ThreadResponse{Thread: thread, Live: thread.Authoritative()})
}

// SendMessage POST /tickets/:ticketId/messages. Accepts multipart form data
// with a "content" field and any number of "files" parts.
func (h *TicketsHandler) SendMessage(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var (
		content string
		headers []*multipart.FileHeader
	)
	if form, err := c.MultipartForm(); err == nil {
		if values := form.Value["content"]; len(values) > 0 {
			content = values[0]
		}
		headers = append(headers, form.File["files"]...)
		headers = append(headers, form.File["files[]"]...)
	} else {
		var body struct {
			Content string `json:"content"`
		}
		if err := c.BodyParser(&body); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
		content = body.Content
	}
	if len(headers) > maxFilesPerMessage {
		return apperrors.NewValidationError(fmt.Sprintf("at most %d files per message", maxFilesPerMessage), nil)
	}

	files, unreadable, closeAll := h.openUploads(headers)
	defer closeAll()

	result, err := h.engine.SendMessage(c.UserContext(), user, c.Params("ticketId"), content, files)
	if err != nil {
		return err
	}
	if len(unreadable) > 0 {
		result.Failed = append(unreadable, result.Failed...)
	}
	return data(c, fiber.StatusCreated, result)
}

// openUploads opens every multipart part. Parts that cannot be read are
// reported back as failed files.
func (h *TicketsHandler) openUploads(headers []*multipart.FileHeader) ([]conversation.File, []conversation.FileFailure, func()) {
	files := make([]conversation.File, 0, len(headers))
	var (
		failed  []conversation.FileFailure
		closers []io.Closer
	)
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.logger.Warn("unreadable upload part", zap.String("filename", fh.Filename), zap.Error(err))
			failed = append(failed, conversation.FileFailure{Filename: fh.Filename, Reason: "unreadable upload"})
			continue
		}
		closers = append(closers, f)
		files = append(files, conversation.File{Name: fh.Filename, Content: f})
	}
	return files, failed, func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
}

// ListAttachments GET /tickets/:ticketId/attachments.
func (h *TicketsHandler) ListAttachments(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	groups, err := h.engine.AttachmentsWithContext(c.UserContext(), user, c.Params("ticketId"))
	if err != nil {
		return err
	}
	if groups == nil {
		groups = []conversation.AttachmentGroup{}
	}
	return data(c, fiber.StatusOK, dto.AttachmentGroupsResponse{Groups: groups})
}

// DownloadAttachment GET /attachments/:attachmentId/download.
func (h *TicketsHandler) DownloadAttachment(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	rc, attachment, obj, err := h.engine.OpenAttachment(c.UserContext(), user, c.Params("attachmentId"))
	if err != nil {
		return err
	}
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+strconv.Quote(attachment.Filename))
	size := int(obj.Size)
	if size <= 0 {
		size = -1
	}
	return c.SendStream(rc, size)
}

// Typing POST /tickets/:ticketId/typing.
func (h *TicketsHandler) Typing(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	sent, err := h.engine.Typing(c.UserContext(), user, c.Params("ticketId"))
	if err != nil {
		return err
	}
	return data(c, fiber.StatusAccepted, dto.TypingResponse{Sent: sent})
}
