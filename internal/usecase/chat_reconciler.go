package usecase

import (
	"context"
	stderrors "errors"
	"time"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// ErrPartnerUnknown means no source yielded the other participant's id.
var ErrPartnerUnknown = stderrors.New("chat partner could not be determined")

const unavailableNotice = "unable to load chat"

type ChatReconciler struct {
	chatRepo  repository.ChatRepository
	orderRepo repository.OrderRepository
	userRepo  repository.UserRepository
	resolver  *ChatIdentityResolver
	clock     func() time.Time
}

func NewChatReconciler(
	chatRepo repository.ChatRepository,
	orderRepo repository.OrderRepository,
	userRepo repository.UserRepository,
	resolver *ChatIdentityResolver,
) *ChatReconciler {
	return &ChatReconciler{
		chatRepo:  chatRepo,
		orderRepo: orderRepo,
		userRepo:  userRepo,
		resolver:  resolver,
		clock:     time.Now,
	}
}

// newChatSeed builds the full chat document for orderID between self and
// partner, with self playing role. An unknown role is treated as buyer.
func newChatSeed(orderID string, self, partner entity.ParticipantProfile, role entity.Role) *entity.Chat {
	if role != entity.RoleSeller {
		role = entity.RoleBuyer
	}
	self.Role = role
	partner.Role = role.Counterpart()

	buyer, seller := self, partner
	if role == entity.RoleSeller {
		buyer, seller = partner, self
	}

	return &entity.Chat{
		ID:             ResolveChatID(orderID, buyer.ID, seller.ID),
		OrderID:        orderID,
		OrderFolio:     OrderFolio(orderID),
		BuyerID:        buyer.ID,
		BuyerName:      buyer.DisplayName,
		SellerID:       seller.ID,
		SellerName:     seller.DisplayName,
		ParticipantIDs: []string{buyer.ID, seller.ID},
		ParticipantProfiles: map[string]entity.ParticipantProfile{
			buyer.ID:  buyer,
			seller.ID: seller,
		},
		UnreadCounts: map[string]int{buyer.ID: 0, seller.ID: 0},
	}
}

// BuildMergePatch returns the fields of seed that are missing on stored.
// Populated fields on stored are never part of the patch.
func BuildMergePatch(stored, seed *entity.Chat) *entity.ChatPatch {
	patch := &entity.ChatPatch{}
	if stored == nil {
		stored = &entity.Chat{}
	}
	missing := func(have, want string) string {
		if have == "" {
			return want
		}
		return ""
	}
	patch.OrderID = missing(stored.OrderID, seed.OrderID)
	patch.OrderFolio = missing(stored.OrderFolio, seed.OrderFolio)
	patch.BuyerID = missing(stored.BuyerID, seed.BuyerID)
	patch.BuyerName = missing(stored.BuyerName, seed.BuyerName)
	patch.SellerID = missing(stored.SellerID, seed.SellerID)
	patch.SellerName = missing(stored.SellerName, seed.SellerName)

	for _, id := range seed.ParticipantIDs {
		if id == "" {
			continue
		}
		found := false
		for _, have := range stored.ParticipantIDs {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			patch.AddParticipants = append(patch.AddParticipants, id)
		}
		if _, ok := stored.ParticipantProfiles[id]; !ok {
			if prof, ok := seed.ParticipantProfiles[id]; ok {
				if patch.Profiles == nil {
					patch.Profiles = make(map[string]entity.ParticipantProfile)
				}
				patch.Profiles[id] = prof
			}
		}
		if _, ok := stored.UnreadCounts[id]; !ok {
			if patch.UnreadCounts == nil {
				patch.UnreadCounts = make(map[string]int)
			}
			patch.UnreadCounts[id] = 0
		}
	}

	if patch.IsEmpty() {
		return nil
	}
	return patch
}

// EnsureChat finds or creates the chat for orderID between self and partner
// and back-fills whatever the stored document is missing. Calling it again
// with the same arguments writes nothing.
func (rc *ChatReconciler) EnsureChat(ctx context.Context, orderID string, self, partner entity.ParticipantProfile, role entity.Role) (*entity.Chat, error) {
	if partner.ID == "" {
		return nil, ErrPartnerUnknown
	}
	seed := newChatSeed(orderID, self, partner, role)

	existing, err := rc.resolver.FindExistingChat(ctx, orderID, self.ID, partner.ID, role)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return rc.mergeInto(ctx, existing, seed)
	}

	err = rc.chatRepo.Create(ctx, seed)
	if err == nil {
		logger.Info("EnsureChat: created chat %s for order %s", seed.ID, orderID)
		return rc.chatRepo.GetByID(ctx, seed.ID)
	}
	if !errors.Is(err, errors.CodeConflict) {
		logger.Error("EnsureChat Error: creating chat %s: %v", seed.ID, err)
		return nil, err
	}

	// Lost a creation race with the other participant.
	stored, err := rc.chatRepo.GetByID(ctx, seed.ID)
	if err != nil {
		return nil, err
	}
	return rc.mergeInto(ctx, stored, seed)
}

func (rc *ChatReconciler) mergeInto(ctx context.Context, stored, seed *entity.Chat) (*entity.Chat, error) {
	patch := BuildMergePatch(stored, seed)
	if patch == nil {
		return stored, nil
	}

	err := rc.chatRepo.Update(ctx, stored.ID, func(current *entity.Chat) (*entity.ChatPatch, error) {
		return BuildMergePatch(current, seed), nil
	})
	if err != nil {
		logger.Warn("EnsureChat: transactional back-fill of %s failed, merging instead: %v", stored.ID, err)
		if err := rc.chatRepo.Merge(ctx, stored.ID, patch); err != nil {
			logger.Error("EnsureChat Error: back-fill merge of %s failed: %v", stored.ID, err)
			return stored, nil
		}
	}

	merged, err := rc.chatRepo.GetByID(ctx, stored.ID)
	if err != nil {
		merged = stored.Clone()
		patch.ApplyTo(merged, rc.clock())
	}
	return merged, nil
}

// RecordMessageSent folds a persisted message into the chat summary: last
// message, unread counts and the sender's profile. Failures are logged and
// swallowed since the message log is authoritative.
func (rc *ChatReconciler) RecordMessageSent(ctx context.Context, chat *entity.Chat, sender entity.ParticipantProfile, msg *entity.Message) {
	build := func(current *entity.Chat) *entity.ChatPatch {
		if current == nil {
			current = chat
		}
		if sender.Role == entity.RoleUnknown {
			sender.Role = current.RoleOf(sender.ID)
		}
		recipient := current.CounterpartOf(sender.ID)

		patch := &entity.ChatPatch{
			AddParticipants: []string{sender.ID},
			Profiles:        map[string]entity.ParticipantProfile{sender.ID: sender},
			UnreadCounts:    map[string]int{sender.ID: 0},
		}
		if recipient != "" && recipient != sender.ID {
			patch.AddParticipants = append(patch.AddParticipants, recipient)
			patch.UnreadIncrement = map[string]int{recipient: 1}
		}
		if !current.LastMessageAt.After(msg.CreatedAt) {
			patch.LastMessage = &entity.LastMessage{Text: msg.Text, SenderID: sender.ID, At: msg.CreatedAt}
		}
		return patch
	}

	err := rc.chatRepo.Update(ctx, chat.ID, func(current *entity.Chat) (*entity.ChatPatch, error) {
		return build(current), nil
	})
	if err == nil {
		return
	}

	logger.Warn("RecordMessageSent: transaction on chat %s failed, falling back to merge: %v", chat.ID, err)
	if err := rc.chatRepo.Merge(ctx, chat.ID, build(nil)); err != nil {
		logger.Error("RecordMessageSent Error: fallback merge on chat %s failed: %v", chat.ID, err)
	}
}

// MarkConversationRead zeroes the viewer's unread count. Nothing is written
// while the conversation is not visible.
func (rc *ChatReconciler) MarkConversationRead(ctx context.Context, chat *entity.Chat, viewerID string, visible bool) {
	if !visible || chat == nil || viewerID == "" {
		return
	}

	err := rc.chatRepo.ResetUnread(ctx, chat.ID, viewerID)
	if err == nil {
		return
	}
	if errors.IsNotFound(err) {
		logger.Warn("MarkConversationRead: chat %s no longer exists", chat.ID)
		return
	}

	logger.Warn("MarkConversationRead: update on chat %s failed, falling back to merge: %v", chat.ID, err)
	patch := &entity.ChatPatch{UnreadCounts: map[string]int{viewerID: 0}}
	if err := rc.chatRepo.Merge(ctx, chat.ID, patch); err != nil {
		logger.Error("MarkConversationRead Error: fallback merge on chat %s failed: %v", chat.ID, err)
	}
}

type OpenConversationInput struct {
	OrderID string `json:"order_id" validate:"required"`
	// PartnerID is an explicit argument; QueryPartnerID comes from the page
	// URL the client was opened with.
	PartnerID      string `json:"partner_id"`
	QueryPartnerID string `json:"query_partner_id"`
	PartnerName    string `json:"partner_name"`
}

// ConversationState is what a conversation view renders. When Available is
// false the view shows Notice instead of a message list.
type ConversationState struct {
	Available bool                      `json:"available"`
	Notice    string                    `json:"notice,omitempty"`
	Chat      *entity.Chat              `json:"chat,omitempty"`
	Role      entity.Role               `json:"role,omitempty"`
	Partner   entity.ParticipantProfile `json:"partner"`
}

func degraded(orderID string, err error) *ConversationState {
	logger.Warn("OpenConversation: chat for order %s unavailable: %v", orderID, err)
	return &ConversationState{Available: false, Notice: unavailableNotice}
}

// OpenConversation resolves the partner, ensures the chat and marks it read
// for a visible viewer. Resolution failures yield a degraded state, never an
// error.
func (rc *ChatReconciler) OpenConversation(ctx context.Context, session entity.Session, input OpenConversationInput) *ConversationState {
	role := rc.resolveRole(ctx, session)

	partner, err := rc.resolvePartner(ctx, role, input)
	if err != nil {
		return degraded(input.OrderID, err)
	}
	self := entity.ParticipantProfile{ID: session.UID, DisplayName: session.Name(), Role: role}

	chat, err := rc.EnsureChat(ctx, input.OrderID, self, partner, role)
	if err != nil {
		return degraded(input.OrderID, err)
	}

	rc.MarkConversationRead(ctx, chat, session.UID, session.Visible)
	if session.Visible {
		chat = chat.Clone()
		if chat.UnreadCounts == nil {
			chat.UnreadCounts = make(map[string]int)
		}
		chat.UnreadCounts[session.UID] = 0
	}

	if r := chat.RoleOf(session.UID); r != entity.RoleUnknown {
		role = r
	}
	if p, ok := chat.ParticipantProfiles[partner.ID]; ok && p.DisplayName != "" {
		partner.DisplayName = p.DisplayName
	}
	return &ConversationState{Available: true, Chat: chat, Role: role, Partner: partner}
}

func (rc *ChatReconciler) resolveRole(ctx context.Context, session entity.Session) entity.Role {
	if session.Role != entity.RoleUnknown {
		return session.Role
	}
	if rc.userRepo == nil {
		return entity.RoleUnknown
	}
	user, err := rc.userRepo.GetByID(ctx, session.UID)
	if err != nil {
		logger.Debug("resolveRole: no profile for %s: %v", session.UID, err)
		return entity.RoleUnknown
	}
	return user.ActiveRole
}

// resolvePartner tries the explicit id, then the query-string id, then the
// order itself.
func (rc *ChatReconciler) resolvePartner(ctx context.Context, role entity.Role, input OpenConversationInput) (entity.ParticipantProfile, error) {
	partner := entity.ParticipantProfile{ID: input.PartnerID, DisplayName: input.PartnerName}
	if partner.ID == "" {
		partner.ID = input.QueryPartnerID
	}

	if partner.ID == "" && rc.orderRepo != nil && input.OrderID != "" {
		order, err := rc.orderRepo.GetByID(ctx, input.OrderID)
		if err != nil {
			logger.Warn("resolvePartner: order %s lookup failed: %v", input.OrderID, err)
		} else if role == entity.RoleSeller {
			partner.ID = order.BuyerID
		} else {
			id, name := order.FirstSeller()
			partner.ID = id
			if partner.DisplayName == "" {
				partner.DisplayName = name
			}
		}
	}
	if partner.ID == "" {
		return partner, ErrPartnerUnknown
	}

	if partner.DisplayName == "" && rc.userRepo != nil {
		if u, err := rc.userRepo.GetByID(ctx, partner.ID); err == nil {
			partner.DisplayName = u.DisplayName
		}
	}
	return partner, nil
}
