package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/middleware"
	"agromarket/internal/domain/entity"
	"agromarket/internal/usecase"
	"agromarket/pkg/errors"
	"agromarket/pkg/response"
)

type ChatHandler struct {
	resolver   *usecase.ChatIdentityResolver
	reconciler *usecase.ChatReconciler
	messages   *usecase.MessageStreamManager
	chatList   *usecase.ChatListUseCase
	locale     string
}

func NewChatHandler(
	resolver *usecase.ChatIdentityResolver,
	reconciler *usecase.ChatReconciler,
	messages *usecase.MessageStreamManager,
	chatList *usecase.ChatListUseCase,
	defaultLocale string,
) *ChatHandler {
	return &ChatHandler{
		resolver:   resolver,
		reconciler: reconciler,
		messages:   messages,
		chatList:   chatList,
		locale:     defaultLocale,
	}
}

type resolveChatRequest struct {
	OrderID  string `query:"order_id" validate:"required"`
	BuyerID  string `query:"buyer_id" validate:"required"`
	SellerID string `query:"seller_id" validate:"required"`
}

type resolveChatResponse struct {
	ChatID         string `json:"chat_id"`
	OrderFolio     string `json:"order_folio"`
	ExistingChatID string `json:"existing_chat_id,omitempty"`
}

type openChatRequest struct {
	usecase.OpenConversationInput
	Visible bool `json:"visible"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type messagesResponse struct {
	ChatID string              `json:"chat_id"`
	Days   []entity.MessageDay `json:"days"`
}

func (h *ChatHandler) requestLocale(c echo.Context) string {
	if l := c.QueryParam("locale"); l != "" {
		return l
	}
	if l := c.Request().Header.Get("Accept-Language"); l != "" {
		return l
	}
	return h.locale
}

// ResolveChat returns the deterministic chat id for an order and its two
// participants, and the id of a stored chat for the pair if one exists.
func (h *ChatHandler) ResolveChat(c echo.Context) error {
	var req resolveChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	session := middleware.SessionFrom(c)
	res := resolveChatResponse{
		ChatID:     usecase.ResolveChatID(req.OrderID, req.BuyerID, req.SellerID),
		OrderFolio: usecase.OrderFolio(req.OrderID),
	}

	var partnerID string
	role := session.Role
	switch session.UID {
	case req.BuyerID:
		partnerID, role = req.SellerID, entity.RoleBuyer
	case req.SellerID:
		partnerID, role = req.BuyerID, entity.RoleSeller
	default:
		return response.Success(c, res)
	}

	existing, err := h.resolver.FindExistingChat(c.Request().Context(), req.OrderID, session.UID, partnerID, role)
	if err != nil && !errors.Is(err, errors.CodeUnavailable) {
		return response.Error(c, err)
	}
	if existing != nil {
		res.ExistingChatID = existing.ID
	}
	return response.Success(c, res)
}

// OpenChat ensures the chat for an order exists and is complete. A chat
// that cannot be resolved comes back with available=false, not an error.
func (h *ChatHandler) OpenChat(c echo.Context) error {
	var req openChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req.OpenConversationInput); err != nil {
		return response.Error(c, err)
	}

	session := middleware.SessionFrom(c)
	session.Visible = req.Visible
	if req.QueryPartnerID == "" {
		req.QueryPartnerID = c.QueryParam("partner")
	}

	state := h.reconciler.OpenConversation(c.Request().Context(), session, req.OpenConversationInput)
	return response.Success(c, state)
}

// GetUserChats returns the first chat list snapshot for the caller.
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	session := middleware.SessionFrom(c)

	rows, err := h.chatList.Snapshot(c.Request().Context(), session, h.requestLocale(c))
	if err != nil {
		return response.Error(c, err)
	}
	if rows == nil {
		rows = []entity.ChatSummary{}
	}
	return response.Success(c, rows)
}

// GetChatMessages returns the message log grouped by day in the caller's
// time zone.
func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	session := middleware.SessionFrom(c)
	ctx := c.Request().Context()

	loc := time.Local
	if tz := c.QueryParam("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return response.Error(c, errors.BadRequest("Unknown time zone", err))
		}
		loc = l
	}

	chat, err := h.messages.LoadChat(ctx, c.Param("id"), session.UID)
	if err != nil {
		return response.Error(c, err)
	}

	session.Visible = c.QueryParam("visible") == "true"
	msgs, err := h.messages.Messages(ctx, chat, usecase.NewViewer(session))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messagesResponse{
		ChatID: chat.ID,
		Days:   usecase.GroupByDay(msgs, time.Now(), loc, h.requestLocale(c)),
	})
}

// SendMessage appends a message. Blank text is accepted and ignored.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	session := middleware.SessionFrom(c)
	ctx := c.Request().Context()

	chat, err := h.messages.LoadChat(ctx, c.Param("id"), session.UID)
	if err != nil {
		return response.Error(c, err)
	}

	sender := entity.ParticipantProfile{
		ID:          session.UID,
		DisplayName: session.Name(),
		Role:        chat.RoleOf(session.UID),
	}
	msg, err := h.messages.SendMessage(ctx, chat, sender, req.Text)
	if err != nil {
		return response.Error(c, err)
	}
	if msg == nil {
		return response.Accepted(c, nil)
	}

	h.chatList.ConfirmLocalMessage(session.UID, msg)
	return response.Created(c, msg)
}

// MarkChatAsRead clears the caller's unread count and marks their incoming
// messages read.
func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	session := middleware.SessionFrom(c)
	ctx := c.Request().Context()

	chat, err := h.messages.LoadChat(ctx, c.Param("id"), session.UID)
	if err != nil {
		return response.Error(c, err)
	}

	session.Visible = true
	h.reconciler.MarkConversationRead(ctx, chat, session.UID, true)
	if _, err := h.messages.Messages(ctx, chat, usecase.NewViewer(session)); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"chat_id": chat.ID,
		"status":  "read",
	})
}
