package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

type fakeTransport struct {
	supportsKeys bool
	err          error
	sent         []Message
}

func (f *fakeTransport) Name() string                  { return "fake" }
func (f *fakeTransport) SupportsIdempotencyKeys() bool { return f.supportsKeys }

func (f *fakeTransport) Send(_ context.Context, msg Message) (*SendReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &SendReceipt{
		MessageID: fmt.Sprintf("msg-%d", len(f.sent)),
		SentAt:    time.Date(2026, 6, 3, 15, 0, 0, 0, time.UTC),
	}, nil
}

func dispatchableItem(version int) (*domain.OutreachItem, *domain.InvestorProfile) {
	item := domain.NewOutreachItem("it-1", "cmp-1", "inv-1", time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	item.State = domain.StateDispatching
	for v := 1; v <= version; v++ {
		item.AddDraft(domain.Draft{
			Subject: fmt.Sprintf("Intro v%d", v),
			Body:    "Hi Dana, worth a call?",
			Author:  domain.DraftAuthorGenerator,
		})
	}
	inv := &domain.InvestorProfile{
		InvestorID: "inv-1",
		Version:    1,
		Name:       "Dana Reyes",
		Email:      "dana@harbor.vc",
	}
	return item, inv
}

func TestDispatchSendsCurrentDraft(t *testing.T) {
	transport := &fakeTransport{}
	sends := store.NewMemory().Bundle().Sends
	engine := NewEngine(transport, sends)
	item, inv := dispatchableItem(1)

	rec, err := engine.Dispatch(context.Background(), item, inv)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DraftVersion)
	assert.Equal(t, "msg-1", rec.MessageID)
	assert.Equal(t, IdempotencyKey("it-1", 1), rec.IdempotencyKey)

	require.Len(t, transport.sent, 1)
	msg := transport.sent[0]
	assert.Equal(t, "dana@harbor.vc", msg.To)
	assert.Equal(t, "Dana Reyes", msg.ToName)
	assert.Equal(t, "Intro v1", msg.Subject)
	assert.Equal(t, "it-1", msg.ItemID)
	assert.Equal(t, "cmp-1", msg.CampaignID)
	assert.Equal(t, rec.IdempotencyKey, msg.IdempotencyKey)

	stored, err := sends.Lookup(context.Background(), rec.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, rec.MessageID, stored.MessageID)
}

func TestDispatchSameKeySendsOnce(t *testing.T) {
	transport := &fakeTransport{}
	sends := store.NewMemory().Bundle().Sends
	engine := NewEngine(transport, sends)
	item, inv := dispatchableItem(1)

	first, err := engine.Dispatch(context.Background(), item, inv)
	require.NoError(t, err)

	// Retry after a crash between send and item persist: the history
	// hit short-circuits, nothing goes out again.
	second, err := engine.Dispatch(context.Background(), item, inv)
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Len(t, transport.sent, 1)
}

func TestDispatchNewDraftVersionGetsNewKey(t *testing.T) {
	transport := &fakeTransport{}
	sends := store.NewMemory().Bundle().Sends
	engine := NewEngine(transport, sends)

	item, inv := dispatchableItem(1)
	first, err := engine.Dispatch(context.Background(), item, inv)
	require.NoError(t, err)

	item.AddDraft(domain.Draft{Subject: "Follow-up", Body: "Bumping this.", Author: domain.DraftAuthorGenerator, FollowUp: true})
	second, err := engine.Dispatch(context.Background(), item, inv)
	require.NoError(t, err)

	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, 2, second.DraftVersion)
	assert.Len(t, transport.sent, 2)
}

func TestDispatchTransportFailureIsTransient(t *testing.T) {
	transport := &fakeTransport{err: errors.New("throttled")}
	sends := store.NewMemory().Bundle().Sends
	engine := NewEngine(transport, sends)
	item, inv := dispatchableItem(1)

	_, err := engine.Dispatch(context.Background(), item, inv)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTransient, domain.KindOf(err))

	// Nothing confirmed, so nothing recorded: the retry may send.
	_, err = sends.Lookup(context.Background(), IdempotencyKey("it-1", 1))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatchRequiresApprovedItem(t *testing.T) {
	engine := NewEngine(&fakeTransport{}, store.NewMemory().Bundle().Sends)
	item, inv := dispatchableItem(1)
	item.State = domain.StateScored

	_, err := engine.Dispatch(context.Background(), item, inv)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTerminal, domain.KindOf(err))
}

func TestDispatchRequiresRecipientAddress(t *testing.T) {
	transport := &fakeTransport{}
	engine := NewEngine(transport, store.NewMemory().Bundle().Sends)
	item, inv := dispatchableItem(1)
	inv.Email = ""

	_, err := engine.Dispatch(context.Background(), item, inv)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTerminal, domain.KindOf(err))
	assert.Empty(t, transport.sent)
}

func TestDispatchSkipsHistoryWhenTransportDedupes(t *testing.T) {
	transport := &fakeTransport{supportsKeys: true}
	sends := store.NewMemory().Bundle().Sends
	engine := NewEngine(transport, sends)
	item, inv := dispatchableItem(1)

	rec, err := engine.Dispatch(context.Background(), item, inv)
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, rec.IdempotencyKey, transport.sent[0].IdempotencyKey)

	// The provider owns dedupe; the engine keeps no history.
	_, err = sends.Lookup(context.Background(), rec.IdempotencyKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	assert.Equal(t, IdempotencyKey("it-1", 1), IdempotencyKey("it-1", 1))
	assert.NotEqual(t, IdempotencyKey("it-1", 1), IdempotencyKey("it-1", 2))
	assert.NotEqual(t, IdempotencyKey("it-1", 1), IdempotencyKey("it-2", 1))
	assert.Len(t, IdempotencyKey("it-1", 1), 32)
}

func TestSESTransportReportsNoNativeIdempotency(t *testing.T) {
	tr := &SESTransport{}
	assert.False(t, tr.SupportsIdempotencyKeys())
	assert.Equal(t, "ses", tr.Name())
}
