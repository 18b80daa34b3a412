package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ItemState
		to   ItemState
		want bool
	}{
		{"ingested to enriching", StateIngested, StateEnriching, true},
		{"enriching retry return", StateEnriching, StateIngested, true},
		{"enriched to scoring", StateEnriched, StateScoring, true},
		{"scored to drafting", StateScored, StateDrafting, true},
		{"drafting to awaiting approval", StateDrafting, StateAwaitingApproval, true},
		{"awaiting to approved", StateAwaitingApproval, StateApproved, true},
		{"awaiting to rejected", StateAwaitingApproval, StateRejected, true},
		{"approved to dispatching", StateApproved, StateDispatching, true},
		{"dispatching to sent", StateDispatching, StateSent, true},
		{"dispatching retry return", StateDispatching, StateApproved, true},
		{"sent to tracking", StateSent, StateTracking, true},
		{"tracking to follow up", StateTracking, StateFollowUpScheduled, true},
		{"tracking to closed", StateTracking, StateClosed, true},
		{"follow up back to drafting", StateFollowUpScheduled, StateDrafting, true},
		{"follow up to scoring on stale profile", StateFollowUpScheduled, StateScoring, true},
		{"any state can fail", StateTracking, StateFailed, true},
		{"no skipping enrichment", StateIngested, StateScoring, false},
		{"no sending without approval", StateDrafting, StateSent, false},
		{"no dispatch from awaiting", StateAwaitingApproval, StateDispatching, false},
		{"rejected is terminal", StateRejected, StateDrafting, false},
		{"closed is terminal", StateClosed, StateTracking, false},
		{"failed is terminal", StateFailed, StateIngested, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestEveryNonTerminalStateCanFail(t *testing.T) {
	for state := range validNext {
		if state.IsTerminal() {
			continue
		}
		if !state.CanTransition(StateFailed) {
			t.Errorf("state %s cannot transition to failed", state)
		}
	}
}

func TestAdvanceAppendsHistory(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	item := NewOutreachItem("item-1", "camp-1", "inv-1", now)

	if err := item.Advance(StateEnriching, "enrichment started", now.Add(time.Second)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := item.Advance(StateEnriched, "enrichment complete", now.Add(2*time.Second)); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if item.State != StateEnriched {
		t.Errorf("state = %s, want %s", item.State, StateEnriched)
	}
	if len(item.Transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(item.Transitions))
	}
	if item.Transitions[0].From != StateIngested || item.Transitions[0].To != StateEnriching {
		t.Errorf("first transition = %+v", item.Transitions[0])
	}
	if item.Transitions[1].Reason != "enrichment complete" {
		t.Errorf("reason = %q", item.Transitions[1].Reason)
	}
}

func TestAdvanceRejectsInvalidMove(t *testing.T) {
	now := time.Now()
	item := NewOutreachItem("item-1", "camp-1", "inv-1", now)

	if err := item.Advance(StateSent, "skip ahead", now); err == nil {
		t.Fatal("expected error for ingested -> sent")
	}
	if item.State != StateIngested {
		t.Errorf("state changed on invalid move: %s", item.State)
	}
	if len(item.Transitions) != 0 {
		t.Errorf("history grew on invalid move: %d entries", len(item.Transitions))
	}
}

func TestAdvanceRefusesTerminalItem(t *testing.T) {
	now := time.Now()
	item := NewOutreachItem("item-1", "camp-1", "inv-1", now)
	if err := item.Advance(StateFailed, "retries exhausted", now); err != nil {
		t.Fatalf("Advance to failed: %v", err)
	}
	if item.FailReason != "retries exhausted" {
		t.Errorf("fail reason = %q", item.FailReason)
	}
	if err := item.Advance(StateEnriching, "resurrect", now); err == nil {
		t.Fatal("expected error advancing a failed item")
	}
}

func TestAddDraftAssignsVersions(t *testing.T) {
	item := NewOutreachItem("item-1", "camp-1", "inv-1", time.Now())

	d1 := item.AddDraft(Draft{Subject: "first", Author: DraftAuthorGenerator})
	d2 := item.AddDraft(Draft{Subject: "edited", Author: "partner@fund.example"})

	if d1.Version != 1 || d2.Version != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", d1.Version, d2.Version)
	}
	if got := item.CurrentDraft(); got.Subject != "edited" {
		t.Errorf("current draft = %q, want edited", got.Subject)
	}
	if len(item.Drafts) != 2 {
		t.Errorf("drafts = %d, want 2 (versions are append-only)", len(item.Drafts))
	}
}

func TestBumpAttempt(t *testing.T) {
	item := NewOutreachItem("item-1", "camp-1", "inv-1", time.Now())

	if n := item.BumpAttempt(StageEnrich); n != 1 {
		t.Errorf("first bump = %d", n)
	}
	if n := item.BumpAttempt(StageEnrich); n != 2 {
		t.Errorf("second bump = %d", n)
	}
	if n := item.BumpAttempt(StageDispatch); n != 1 {
		t.Errorf("other stage starts fresh, got %d", n)
	}

	item.ResetAttempts(StageEnrich)
	if n := item.BumpAttempt(StageEnrich); n != 1 {
		t.Errorf("bump after reset = %d", n)
	}
}

func TestHasReplySince(t *testing.T) {
	sent := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	item := NewOutreachItem("item-1", "camp-1", "inv-1", sent)
	item.Engagement = []EngagementEvent{
		{SourceEventID: "ev-1", Kind: EngagementOpen, Timestamp: sent.Add(time.Hour)},
		{SourceEventID: "ev-2", Kind: EngagementReply, Timestamp: sent.Add(-time.Hour)},
	}

	if item.HasReplySince(sent) {
		t.Error("reply before the send should not count")
	}

	item.Engagement = append(item.Engagement, EngagementEvent{
		SourceEventID: "ev-3", Kind: EngagementReply, Timestamp: sent.Add(2 * time.Hour),
	})
	if !item.HasReplySince(sent) {
		t.Error("reply after the send should count")
	}
}
