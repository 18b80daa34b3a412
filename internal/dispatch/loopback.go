package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fundline/outreach/internal/pkg/logger"
)

// LoopbackTransport accepts every message without contacting a
// provider. Dev-mode servers use it so the pipeline can run end to end
// with no SES credentials.
type LoopbackTransport struct {
	log *logger.Logger
}

// NewLoopbackTransport creates the no-op transport.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{log: logger.Component("dispatch.loopback")}
}

// Name identifies the transport in logs and dispatch records.
func (t *LoopbackTransport) Name() string { return "loopback" }

// SupportsIdempotencyKeys reports false so the engine exercises the
// same send-history guard it uses against a real provider.
func (t *LoopbackTransport) SupportsIdempotencyKeys() bool { return false }

// Send logs the message and fabricates a receipt.
func (t *LoopbackTransport) Send(ctx context.Context, msg Message) (*SendReceipt, error) {
	t.log.Info("loopback send",
		"item_id", msg.ItemID,
		"campaign_id", msg.CampaignID,
		"to", msg.To,
		"subject", msg.Subject)
	return &SendReceipt{
		MessageID: "loopback-" + uuid.NewString(),
		SentAt:    time.Now().UTC(),
	}, nil
}
