package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var itemTestColumns = []string{
	"id", "campaign_id", "investor_id", "state", "fail_reason", "investor_version",
	"score", "drafts", "dispatches", "engagement", "transitions", "stage_attempts",
	"follow_ups", "created_at", "updated_at",
}

func TestItemRepoGet(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(itemTestColumns).AddRow(
		"it-1", "camp-1", "inv-1", "scored", "", 2,
		[]byte(`{"score":74,"investor_version":2,"company_version":1}`),
		[]byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`{"enrich":1}`),
		0, now, now,
	)
	mock.ExpectQuery(`FROM outreach_items WHERE id = \$1`).WithArgs("it-1").WillReturnRows(rows)

	item, err := NewItemRepo(db).Get(context.Background(), "it-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.State != domain.StateScored {
		t.Errorf("state = %s, want scored", item.State)
	}
	if item.Score == nil || item.Score.Score != 74 || item.Score.InvestorVersion != 2 {
		t.Errorf("score = %+v, want score 74 at investor version 2", item.Score)
	}
	if item.StageAttempts[domain.StageEnrich] != 1 {
		t.Errorf("enrich attempts = %d, want 1", item.StageAttempts[domain.StageEnrich])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestItemRepoGetNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`FROM outreach_items WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := NewItemRepo(db).Get(context.Background(), "missing")
	if err != store.ErrNotFound {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestItemRepoCreateDuplicate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO outreach_items`).WillReturnError(&pq.Error{Code: "23505"})

	item := domain.NewOutreachItem("it-1", "camp-1", "inv-1", time.Now())
	if err := NewItemRepo(db).Create(context.Background(), item); err != store.ErrDuplicate {
		t.Errorf("err = %v, want store.ErrDuplicate", err)
	}
}

func TestItemRepoListFiltersByCampaignAndState(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(itemTestColumns).AddRow(
		"it-1", "camp-1", "inv-1", "awaiting_approval", "", 1,
		nil, []byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`[]`), []byte(`{}`),
		0, now, now,
	)
	mock.ExpectQuery(`FROM outreach_items WHERE campaign_id = \$1 AND state IN \(\$2\) ORDER BY created_at ASC, id ASC`).
		WithArgs("camp-1", "awaiting_approval").
		WillReturnRows(rows)

	got, err := NewItemRepo(db).List(context.Background(), store.ItemFilter{
		CampaignID: "camp-1",
		States:     []domain.ItemState{domain.StateAwaitingApproval},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "it-1" {
		t.Fatalf("list = %d items, want [it-1]", len(got))
	}
	if got[0].Score != nil {
		t.Errorf("score = %+v, want nil for NULL column", got[0].Score)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestProfileRepoAppendAssignsNextVersion(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) \+ 1 FROM investor_profiles`).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO investor_profiles`).
		WithArgs("inv-1", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := NewProfileRepo(db).Append(context.Background(), &domain.InvestorProfile{InvestorID: "inv-1", Firm: "Acme"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEventRepoAppendReportsRedelivery(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	ev := domain.EngagementEvent{SourceEventID: "msg-1-open", ItemID: "it-1", Kind: domain.EngagementOpen, Timestamp: time.Now()}

	mock.ExpectExec(`INSERT INTO engagement_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO engagement_events`).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewEventRepo(db)
	inserted, err := repo.Append(context.Background(), ev)
	if err != nil || !inserted {
		t.Fatalf("first append = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = repo.Append(context.Background(), ev)
	if err != nil || inserted {
		t.Fatalf("redelivery = (%v, %v), want (false, nil)", inserted, err)
	}
}

func TestTaskRepoSaveRejectsSecondPending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO followup_tasks`).WillReturnError(&pq.Error{Code: "23505"})

	task := &domain.FollowUpTask{ID: "task-2", ItemID: "it-1", ScheduledAt: time.Now(), Reason: domain.FollowUpNoResponse, Status: domain.FollowUpPending, CreatedAt: time.Now()}
	if err := NewTaskRepo(db).Save(context.Background(), task); err != store.ErrDuplicate {
		t.Errorf("err = %v, want store.ErrDuplicate", err)
	}
}

func TestTaskRepoDue(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "item_id", "scheduled_at", "reason", "status", "created_at"}).
		AddRow("task-1", "it-1", now.Add(-time.Hour), "no_response_sla", "pending", now.Add(-73*time.Hour))
	mock.ExpectQuery(`FROM followup_tasks\s+WHERE status = 'pending' AND scheduled_at <= \$1`).
		WithArgs(now, 5).
		WillReturnRows(rows)

	due, err := NewTaskRepo(db).Due(context.Background(), now, 5)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Reason != domain.FollowUpNoResponse {
		t.Fatalf("due = %d tasks, want one no_response_sla task", len(due))
	}
}

func TestSendRepoRecordRejectsReplay(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO send_history`).WillReturnError(&pq.Error{Code: "23505"})

	rec := domain.DispatchRecord{IdempotencyKey: "key-1", DraftVersion: 1, SentAt: time.Now()}
	if err := NewSendRepo(db).Record(context.Background(), "it-1", rec); err != store.ErrDuplicate {
		t.Errorf("err = %v, want store.ErrDuplicate", err)
	}
}

func TestSendRepoLookupNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery(`FROM send_history WHERE idempotency_key = \$1`).
		WithArgs("key-missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := NewSendRepo(db).Lookup(context.Background(), "key-missing"); err != store.ErrNotFound {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestCampaignRepoUpdateMissing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE campaigns SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	c := &domain.Campaign{ID: "camp-missing", Name: "ghost", Status: domain.CampaignActive}
	if err := NewCampaignRepo(db).Update(context.Background(), c); err != store.ErrNotFound {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}
