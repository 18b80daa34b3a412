// Package dispatch delivers approved drafts through an email transport,
// with an idempotency-key guard so one draft version is sent at most
// once no matter how often the stage is retried.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// Message is one outbound email handed to a transport.
type Message struct {
	To             string
	ToName         string
	Subject        string
	Body           string
	ItemID         string
	CampaignID     string
	IdempotencyKey string
}

// SendReceipt is a transport's confirmation of one accepted message.
type SendReceipt struct {
	MessageID string
	SentAt    time.Time
}

// Transport delivers messages through one email provider.
type Transport interface {
	Name() string
	// SupportsIdempotencyKeys reports whether the provider dedupes on
	// the message's idempotency key itself. When false, the engine
	// consults its send history before every send.
	SupportsIdempotencyKeys() bool
	Send(ctx context.Context, msg Message) (*SendReceipt, error)
}

// IdempotencyKey derives the duplicate-send guard key for one draft
// version of one item. Retries of the same version produce the same
// key; a new draft version produces a new one.
func IdempotencyKey(itemID string, draftVersion int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", itemID, draftVersion)))
	return hex.EncodeToString(sum[:16])
}

// Engine performs sends for the dispatch stage.
type Engine struct {
	transport Transport
	sends     store.SendHistory
	log       *logger.Logger
	now       func() time.Time
}

// NewEngine wires a transport and the send-history guard.
func NewEngine(transport Transport, sends store.SendHistory) *Engine {
	return &Engine{
		transport: transport,
		sends:     sends,
		log:       logger.Component("dispatch"),
		now:       time.Now,
	}
}

// Dispatch sends the item's current draft to the investor. A key hit in
// send history means an earlier attempt already delivered this draft
// version; the stored record is returned and nothing is sent. Transport
// failures, timeouts included, are transient: the key makes the retry
// safe.
func (e *Engine) Dispatch(ctx context.Context, item *domain.OutreachItem, inv *domain.InvestorProfile) (*domain.DispatchRecord, error) {
	if item.State != domain.StateDispatching && item.State != domain.StateApproved {
		return nil, domain.TerminalErr("dispatch", fmt.Errorf("item %s in state %s is not approved for send", item.ID, item.State))
	}
	draft := item.CurrentDraft()
	if draft == nil {
		return nil, domain.TerminalErr("dispatch", fmt.Errorf("item %s has no draft", item.ID))
	}
	if inv.Email == "" {
		return nil, domain.TerminalErr("dispatch", fmt.Errorf("investor %s has no email address", inv.InvestorID))
	}

	key := IdempotencyKey(item.ID, draft.Version)
	if !e.transport.SupportsIdempotencyKeys() {
		existing, err := e.sends.Lookup(ctx, key)
		if err == nil {
			e.log.Info("send already confirmed for key, skipping",
				"item_id", item.ID, "draft_version", draft.Version, "message_id", existing.MessageID)
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, domain.TransientErr("dispatch", fmt.Errorf("send history lookup: %w", err))
		}
	}

	receipt, err := e.transport.Send(ctx, Message{
		To:             inv.Email,
		ToName:         inv.Name,
		Subject:        draft.Subject,
		Body:           draft.Body,
		ItemID:         item.ID,
		CampaignID:     item.CampaignID,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, domain.TransientErr("dispatch", fmt.Errorf("%s: %w", e.transport.Name(), err))
	}

	rec := domain.DispatchRecord{
		DraftVersion:   draft.Version,
		IdempotencyKey: key,
		MessageID:      receipt.MessageID,
		SentAt:         receipt.SentAt,
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = e.now().UTC()
	}

	if !e.transport.SupportsIdempotencyKeys() {
		if err := e.sends.Record(ctx, item.ID, rec); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				if existing, lerr := e.sends.Lookup(ctx, key); lerr == nil {
					return existing, nil
				}
			} else {
				// The message is already out; failing the stage now
				// would schedule a resend, the worse outcome.
				e.log.Error("send confirmed but history write failed",
					"item_id", item.ID, "key", key, "error", err.Error())
			}
		}
	}

	e.log.Info("email dispatched",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"recipient", inv.Email,
		"draft_version", draft.Version,
		"message_id", rec.MessageID,
		"transport", e.transport.Name())
	return &rec, nil
}
