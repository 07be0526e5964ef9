package usecase

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"coursecache/pkg/api"
	"coursecache/pkg/domain"
	"coursecache/pkg/events"
	"coursecache/pkg/store"
)

const viewPayload = `{
	"participants": [
		{"id": "100", "display_name": "Ada"},
		{"id": "101", "display_name": "Grace"}
	],
	"unread_entries": ["2"],
	"forced_entries": ["2"],
	"entry_ratings": {"1": 1},
	"view": [
		{"id": "1", "user_id": "100", "message": "root", "rating_sum": 3, "replies": [
			{"id": "2", "user_id": "101", "message": "child", "replies": [
				{"id": "3", "editor_id": "100", "message": "grandchild"}
			]}
		]}
	],
	"new_entries": [
		{"id": "4", "user_id": "101", "parent_id": "2", "message": "late reply"},
		{"id": "5", "user_id": "100", "parent_id": "999", "message": "orphan"}
	]
}`

func TestRefreshDiscussionViewMaterializesTree(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses/1/discussion_topics/5/view" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, viewPayload)
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()

	if err := e.RefreshDiscussionView(ctx, api.CourseContext("1"), "5", false); err != nil {
		t.Fatalf("refresh view: %v", err)
	}

	entries, err := e.Store.ListEntries(store.Where(store.EntryTopicID, "5"))
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	byID := map[string]domain.DiscussionEntry{}
	for _, entry := range entries {
		byID[entry.ID] = entry
	}
	if len(byID) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(byID))
	}

	// Parent linkage, including the nested recursion and the new_entries
	// forward reference resolved against rows written moments earlier.
	if byID["2"].ParentID != "1" || byID["3"].ParentID != "2" {
		t.Fatalf("broken tree linkage: %+v", byID)
	}
	if byID["4"].ParentID != "2" {
		t.Fatalf("new_entries parent not resolved: %+v", byID["4"])
	}
	// Unknown parent leaves a rootless orphan, never a dropped row.
	if byID["5"].ParentID != "" {
		t.Fatalf("orphan should have empty parent, got %q", byID["5"].ParentID)
	}

	// Read-state merge.
	if byID["1"].IsRead == false {
		t.Fatal("entry 1 is not in unread_entries, must be read")
	}
	if byID["2"].IsRead {
		t.Fatal("entry 2 is unread")
	}
	if !byID["2"].IsForcedRead {
		t.Fatal("entry 2 is forced")
	}
	if !byID["1"].IsLikedByMe || byID["1"].LikeCount != 3 {
		t.Fatalf("rating merge wrong: %+v", byID["1"])
	}
	// Author falls back to editor_id when user_id is absent.
	if byID["3"].AuthorID != "100" {
		t.Fatalf("editor fallback broken: %+v", byID["3"])
	}

	participants := 0
	for _, id := range []string{"100", "101"} {
		if _, ok, _ := store.FindParticipantTx(e.Store.DB(), id); ok {
			participants++
		}
	}
	if participants != 2 {
		t.Fatalf("expected both participants cached, got %d", participants)
	}
}

func TestMarkEntryReadRecountsTopicUnread(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()

	err := e.Store.Write(ctx, func(tx *gorm.DB) error {
		if err := store.UpsertTopicTx(tx, domain.DiscussionTopic{ID: "5", ContextCode: "course_1", UnreadCount: 2}); err != nil {
			return err
		}
		for _, id := range []string{"e1", "e2"} {
			if err := store.UpsertEntryTx(tx, domain.DiscussionEntry{ID: id, TopicID: "5"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.MarkDiscussionEntryRead(ctx, api.CourseContext("1"), "5", "e1", true, false); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	entry, _, _ := e.Store.FindEntry("e1")
	if !entry.IsRead {
		t.Fatal("entry should be read")
	}
	topic, _, _ := e.Store.FindTopic("5")
	if topic.UnreadCount != 1 {
		t.Fatalf("expected recount to 1, got %d", topic.UnreadCount)
	}
}

func TestRateEntryTogglesLikeOptimistically(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()

	err := e.Store.Write(ctx, func(tx *gorm.DB) error {
		return store.UpsertEntryTx(tx, domain.DiscussionEntry{ID: "e1", TopicID: "5", LikeCount: 4})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.RateDiscussionEntry(ctx, api.CourseContext("1"), "5", "e1", true); err != nil {
		t.Fatalf("like: %v", err)
	}
	entry, _, _ := e.Store.FindEntry("e1")
	if !entry.IsLikedByMe || entry.LikeCount != 5 {
		t.Fatalf("expected like applied, got %+v", entry)
	}

	if err := e.RateDiscussionEntry(ctx, api.CourseContext("1"), "5", "e1", false); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	entry, _, _ = e.Store.FindEntry("e1")
	if entry.IsLikedByMe || entry.LikeCount != 4 {
		t.Fatalf("expected like reverted, got %+v", entry)
	}
}

func TestDeleteEntryTombstonesRow(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()

	err := e.Store.Write(ctx, func(tx *gorm.DB) error {
		return store.UpsertEntryTx(tx, domain.DiscussionEntry{ID: "e1", TopicID: "5", Message: "hi"})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.DeleteDiscussionEntry(ctx, api.CourseContext("1"), "5", "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entry, ok, _ := e.Store.FindEntry("e1")
	if !ok {
		t.Fatal("row must survive as a tombstone")
	}
	if !entry.IsRemoved {
		t.Fatalf("expected removed flag, got %+v", entry)
	}
}

func TestCreateReplyPublishesRequirementEvent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id": "77", "user_id": "100", "message": "mine"}`)
	})
	bus := events.NewMemoryBus()
	var e *Engine
	e, _ = newTestEngine(t, handler, WithBus(bus))
	ctx := context.Background()

	created, err := e.CreateDiscussionReply(ctx, api.CourseContext("1"), "5", "", "mine")
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if created.ID != "77" || !created.IsRead {
		t.Fatalf("unexpected created entry: %+v", created)
	}
	if _, ok := bus.Pending("requirement-contribute-1-5"); !ok {
		t.Fatal("expected module requirement event pending")
	}
}

func TestDeleteTopicRemovesOnlyScopedRows(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()

	err := e.Store.Write(ctx, func(tx *gorm.DB) error {
		if err := store.UpsertTopicTx(tx, domain.DiscussionTopic{ID: "5", ContextCode: "course_1"}); err != nil {
			return err
		}
		return store.UpsertTopicTx(tx, domain.DiscussionTopic{ID: "6", ContextCode: "course_1"})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.DeleteDiscussionTopic(ctx, api.CourseContext("1"), "5"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := e.Store.FindTopic("5"); ok {
		t.Fatal("topic 5 should be deleted")
	}
	if _, ok, _ := e.Store.FindTopic("6"); !ok {
		t.Fatal("topic 6 must survive")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one delete request, got %d", hits.Load())
	}
}
