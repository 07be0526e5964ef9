package usecase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"coursecache/pkg/api"
	"coursecache/pkg/cache"
	"coursecache/pkg/domain"
	"coursecache/pkg/store"
)

func newTestEngine(t *testing.T, handler http.Handler, opts ...Option) (*Engine, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	entities, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	client := api.NewClient(ts.URL, "token")
	return New(client, entities, opts...), ts
}

func newTestGate(t *testing.T) *cache.Gate {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	return cache.NewGate(redisSrv.Addr(), "")
}

func TestRefreshDiscussionTopicMergesAndOverwrites(t *testing.T) {
	var title atomic.Value
	title.Store("T")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses/1/discussion_topics/5" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"id": "5", "title": %q, "published": true}`, title.Load())
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()
	apiCtx := api.CourseContext("1")

	if err := e.RefreshDiscussionTopic(ctx, apiCtx, "5", false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, ok, err := e.Store.FindTopic("5")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if got.Title != "T" || !got.Published || got.ContextCode != "course_1" {
		t.Fatalf("unexpected row: %+v", got)
	}

	// The same payload with a changed field overwrites the row in place.
	title.Store("T-edited")
	if err := e.RefreshDiscussionTopic(ctx, apiCtx, "5", false); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	topics, err := e.Store.ListTopics(store.Where(store.TopicContextCode, "course_1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("expected one row, got %d", len(topics))
	}
	if topics[0].Title != "T-edited" {
		t.Fatalf("expected overwritten title, got %q", topics[0].Title)
	}
}

func TestTTLGateSkipsNetworkUntilForced(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"id": "7", "name": "Chemistry"}`)
	})
	e, _ := newTestEngine(t, handler, WithGate(newTestGate(t)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.RefreshCourse(ctx, "7", false); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one network hit inside the window, got %d", hits.Load())
	}

	if err := e.RefreshCourse(ctx, "7", true); err != nil {
		t.Fatalf("forced refresh: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("force must bypass the gate, got %d hits", hits.Load())
	}

	course, ok, err := store.FindCourseTx(e.Store.DB(), "7")
	if err != nil || !ok {
		t.Fatalf("find course: ok=%v err=%v", ok, err)
	}
	if course.Name != "Chemistry" {
		t.Fatalf("unexpected course: %+v", course)
	}
}

func TestFetchAllExhaustsPaginatedCollection(t *testing.T) {
	var ts *httptest.Server
	mux := http.NewServeMux()
	page2 := "/api/v1/courses/1/discussion_topics_page2"
	mux.HandleFunc("/api/v1/courses/1/discussion_topics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next"`, ts.URL, page2))
		w.Header().Set("X-Page", "1")
		w.Header().Set("X-Per-Page", "2")
		fmt.Fprint(w, `[{"id":"1","title":"a"},{"id":"2","title":"b"}]`)
	})
	mux.HandleFunc(page2, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Page", "2")
		w.Header().Set("X-Per-Page", "2")
		fmt.Fprint(w, `[{"id":"3","title":"c"}]`)
	})
	e, server := newTestEngine(t, mux)
	ts = server

	if err := e.RefreshDiscussionTopics(context.Background(), api.CourseContext("1"), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	topics, err := e.Store.ListTopics(store.Where(store.TopicContextCode, "course_1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(topics) != 3 {
		t.Fatalf("expected all pages merged, got %d rows", len(topics))
	}
}

func TestRefreshAnnouncementsDerivesPositionFromPage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Page", "2")
		w.Header().Set("X-Per-Page", "10")
		fmt.Fprint(w, `[{"id":"20","title":"late"}]`)
	})
	e, _ := newTestEngine(t, handler)

	if err := e.RefreshAnnouncements(context.Background(), api.CourseContext("1"), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, ok, err := e.Store.FindTopic("20")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if !got.IsAnnouncement {
		t.Fatal("expected announcement flag")
	}
	if got.Position != 10 {
		t.Fatalf("expected list position 10 (page 2, size 10, index 0), got %d", got.Position)
	}
}

func TestRefreshGroupsPrunesMissingRows(t *testing.T) {
	var payload atomic.Value
	payload.Store(`[{"id":"g1","name":"Alpha"},{"id":"g2","name":"Beta"}]`)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, payload.Load())
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()

	if err := e.RefreshGroups(ctx, false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	groups, _ := e.Store.ListGroups(store.Scope{})
	if len(groups) != 2 {
		t.Fatalf("expected two groups, got %d", len(groups))
	}

	payload.Store(`[]`)
	if err := e.RefreshGroups(ctx, false); err != nil {
		t.Fatalf("refresh empty: %v", err)
	}
	groups, _ = e.Store.ListGroups(store.Scope{})
	if len(groups) != 0 {
		t.Fatalf("empty response must clear the table, got %+v", groups)
	}
}

func TestMutate204GatesLocalWrite(t *testing.T) {
	status := atomic.Int64{}
	status.Store(http.StatusNoContent)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	})
	e, _ := newTestEngine(t, handler)
	ctx := context.Background()
	apiCtx := api.CourseContext("1")

	seedTopic(t, e, "5")
	if err := e.SetDiscussionTopicSubscribed(ctx, apiCtx, "5", true); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	got, _, _ := e.Store.FindTopic("5")
	if !got.Subscribed {
		t.Fatal("expected subscription flag set after 204")
	}
}

func seedTopic(t *testing.T, e *Engine, id string) {
	t.Helper()
	err := e.Store.Write(context.Background(), func(tx *gorm.DB) error {
		return store.UpsertTopicTx(tx, domain.DiscussionTopic{ID: id, ContextCode: "course_1"})
	})
	if err != nil {
		t.Fatalf("seed topic: %v", err)
	}
}
