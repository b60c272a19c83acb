package usecase

import (
	"context"
	stderrors "errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/config"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

var (
	unsafeIDChars   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	nonWordChars    = regexp.MustCompile(`[^A-Za-z0-9_]`)
	errResolveTimed = stderrors.New("chat resolution timed out")
)

func sanitizeIDPart(v, fallback string) string {
	if v == "" {
		v = fallback
	}
	return unsafeIDChars.ReplaceAllString(v, "-")
}

// ResolveChatID derives the canonical chat id for an order between a buyer
// and a seller. Buyer always comes before seller, so swapping them yields a
// different id.
func ResolveChatID(orderID, buyerID, sellerID string) string {
	return sanitizeIDPart(orderID, "order") + "_" +
		sanitizeIDPart(buyerID, "buyer") + "_" +
		sanitizeIDPart(sellerID, "seller")
}

// OrderFolio is the short display label of an order, e.g. PED-ORD42.
func OrderFolio(orderID string) string {
	if orderID == "" {
		orderID = "ORDER"
	}
	clean := nonWordChars.ReplaceAllString(strings.ToUpper(orderID), "")
	if len(clean) > 8 {
		clean = clean[:8]
	}
	return "PED-" + clean
}

type ChatIdentityResolver struct {
	chatRepo     repository.ChatRepository
	orderLimit   int
	partnerLimit int
	timeout      time.Duration
}

func NewChatIdentityResolver(chatRepo repository.ChatRepository, cfg config.ChatConfig) *ChatIdentityResolver {
	return &ChatIdentityResolver{
		chatRepo:     chatRepo,
		orderLimit:   cfg.OrderSearchLimit,
		partnerLimit: cfg.PartnerSearchLimit,
		timeout:      cfg.ResolveTimeout,
	}
}

// FindExistingChat looks up a chat already created for orderID by either
// party. With a known partner it only searches chats holding that partner in
// the counterpart role of viewerRole; otherwise it searches every chat of the
// order. Canonical fields are tried before the legacy order field.
// It returns nil, nil when nothing matches.
func (r *ChatIdentityResolver) FindExistingChat(ctx context.Context, orderID, viewerID, partnerID string, viewerRole entity.Role) (*entity.Chat, error) {
	if orderID == "" {
		return nil, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.timeout, errResolveTimed)
		defer cancel()
	}

	queries := r.candidateQueries(orderID, partnerID, viewerRole)
	candidates := make(map[string]*entity.Chat)
	for _, q := range queries {
		chats, err := r.chatRepo.FindByOrder(ctx, q)
		if err != nil {
			if stderrors.Is(context.Cause(ctx), errResolveTimed) {
				logger.Warn("FindExistingChat: timed out after %v for order %s", r.timeout, orderID)
				return nil, errors.Unavailable("Timed out looking up chat", err)
			}
			return nil, err
		}
		for _, c := range chats {
			candidates[c.ID] = c
		}
		if len(candidates) > 0 {
			break
		}
	}

	return pickCandidate(candidates, viewerID), nil
}

func (r *ChatIdentityResolver) candidateQueries(orderID, partnerID string, viewerRole entity.Role) []repository.ChatQuery {
	if partnerID == "" {
		return []repository.ChatQuery{
			{OrderID: orderID, Limit: r.orderLimit},
			{OrderID: orderID, Legacy: true, Limit: r.orderLimit},
		}
	}

	withPartner := func(legacy bool) repository.ChatQuery {
		q := repository.ChatQuery{OrderID: orderID, Legacy: legacy, Limit: r.partnerLimit}
		if viewerRole == entity.RoleSeller {
			q.BuyerID = partnerID
		} else {
			q.SellerID = partnerID
		}
		return q
	}
	return []repository.ChatQuery{withPartner(false), withPartner(true)}
}

// pickCandidate prefers the most recently active chat the viewer already
// takes part in, then the most recently active one overall.
func pickCandidate(candidates map[string]*entity.Chat, viewerID string) *entity.Chat {
	if len(candidates) == 0 {
		return nil
	}
	list := make([]*entity.Chat, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, c)
	}
	sortByActivity(list)

	for _, c := range list {
		if c.HasParticipant(viewerID) {
			return c
		}
	}
	return list[0]
}

func sortByActivity(chats []*entity.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		ai, aj := chats[i].ActivityAt(), chats[j].ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return chats[i].ID < chats[j].ID
	})
}
