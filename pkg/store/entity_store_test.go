package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"coursecache/pkg/domain"
)

func newTestStore(t *testing.T) *EntityStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestUpsertTopicIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	topic := domain.DiscussionTopic{ID: "5", ContextCode: "course_1", Title: "T", Published: true}
	for i := 0; i < 2; i++ {
		if err := s.Write(ctx, func(tx *gorm.DB) error {
			return UpsertTopicTx(tx, topic)
		}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	topics, err := s.ListTopics(Where(TopicContextCode, "course_1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("expected one row after re-upsert, got %d", len(topics))
	}
	if topics[0].Title != "T" || !topics[0].Published {
		t.Fatalf("unexpected row: %+v", topics[0])
	}

	topic.Title = "T2"
	if err := s.Write(ctx, func(tx *gorm.DB) error {
		return UpsertTopicTx(tx, topic)
	}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := s.FindTopic("5")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if got.Title != "T2" {
		t.Fatalf("expected overwritten title, got %q", got.Title)
	}
}

func TestScopeOrderingIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rows := []domain.DiscussionTopic{
		{ID: "10", ContextCode: "course_1", Pinned: false, Position: 2, LastReplyAt: now},
		{ID: "11", ContextCode: "course_1", Pinned: true, Position: 1, LastReplyAt: now},
		{ID: "12", ContextCode: "course_1", Pinned: false, Position: 1, LastReplyAt: now.Add(-time.Hour)},
		// Same sort keys as "10": the id tie-break decides.
		{ID: "09", ContextCode: "course_1", Pinned: false, Position: 2, LastReplyAt: now},
	}
	if err := s.Write(ctx, func(tx *gorm.DB) error {
		for _, r := range rows {
			if err := UpsertTopicTx(tx, r); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	scope := Scope{
		Conds: []Cond{Eq(TopicContextCode, "course_1")},
		Orders: []Order{
			{Col: TopicPinned, Desc: true},
			{Col: TopicPosition},
			{Col: TopicLastReplyAt, Desc: true},
		},
	}
	got, err := s.ListTopics(scope)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"11", "12", "09", "10"}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s (full: %+v)", i, id, got[i].ID, got)
		}
	}
}

func TestDeleteTopicsLeavesEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, func(tx *gorm.DB) error {
		if err := UpsertTopicTx(tx, domain.DiscussionTopic{ID: "1", ContextCode: "course_1"}); err != nil {
			return err
		}
		return UpsertEntryTx(tx, domain.DiscussionEntry{ID: "e1", TopicID: "1"})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Write(ctx, func(tx *gorm.DB) error {
		return DeleteTopicsTx(tx, Where(TopicID, "1"))
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, ok, _ := s.FindTopic("1"); ok {
		t.Fatal("topic should be gone")
	}
	entries, err := s.ListEntries(Where(EntryTopicID, "1"))
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries scoped to a deleted topic must survive, got %d", len(entries))
	}
}

func TestPruneGroupsTreatsResponseAsSourceOfTruth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, func(tx *gorm.DB) error {
		for _, id := range []string{"g1", "g2", "g3"} {
			if err := UpsertGroupTx(tx, domain.Group{ID: id, Name: id}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Write(ctx, func(tx *gorm.DB) error {
		return PruneGroupsTx(tx, []string{"g2"})
	}); err != nil {
		t.Fatalf("prune: %v", err)
	}
	groups, err := s.ListGroups(Scope{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g2" {
		t.Fatalf("expected only g2, got %+v", groups)
	}

	// Empty keep-set empties the table.
	if err := s.Write(ctx, func(tx *gorm.DB) error {
		return PruneGroupsTx(tx, nil)
	}); err != nil {
		t.Fatalf("prune empty: %v", err)
	}
	groups, _ = s.ListGroups(Scope{})
	if len(groups) != 0 {
		t.Fatalf("expected empty table, got %+v", groups)
	}
}

func TestUploadLegRoundTripAndTaskLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	file := domain.FileUpload{ID: "u1", TaskID: 42, State: domain.UploadUploading}
	if err := s.Write(ctx, func(tx *gorm.DB) error {
		if err := UpsertUploadTx(tx, file); err != nil {
			return err
		}
		return SaveUploadLegTx(tx, "u1", domain.StepTarget, []byte(`{"upload_url":"https://files.test/u"}`))
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := UploadLegTx(s.DB(), "u1", domain.StepTarget)
	if err != nil {
		t.Fatalf("read leg: %v", err)
	}
	if string(raw) != `{"upload_url":"https://files.test/u"}` {
		t.Fatalf("unexpected leg blob: %s", raw)
	}

	got, ok, err := FindUploadByTaskTx(s.DB(), 42)
	if err != nil || !ok {
		t.Fatalf("find by task: ok=%v err=%v", ok, err)
	}
	if got.ID != "u1" {
		t.Fatalf("expected u1, got %s", got.ID)
	}
	if _, err := UploadLegTx(s.DB(), "missing", domain.StepTarget); err == nil {
		t.Fatal("expected error for missing row")
	}
}

func TestOnCommitHooksFireAfterWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fired := 0
	unhook := s.OnCommit(func() { fired++ })
	if err := s.Write(ctx, func(tx *gorm.DB) error {
		return UpsertCourseTx(tx, domain.Course{ID: "c1", Name: "Biology"})
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected one hook call, got %d", fired)
	}

	unhook()
	if err := s.Write(ctx, func(tx *gorm.DB) error {
		return UpsertCourseTx(tx, domain.Course{ID: "c2"})
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fired != 1 {
		t.Fatalf("hook fired after removal: %d", fired)
	}
}
