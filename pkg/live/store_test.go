package live

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"coursecache/pkg/domain"
	"coursecache/pkg/store"
)

func newTestEntities(t *testing.T) *store.EntityStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func seedTopics(t *testing.T, entities *store.EntityStore, topics ...domain.DiscussionTopic) {
	t.Helper()
	err := entities.Write(context.Background(), func(tx *gorm.DB) error {
		for _, topic := range topics {
			if err := store.UpsertTopicTx(tx, topic); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func topicQuery(entities *store.EntityStore) Query[domain.DiscussionTopic] {
	return func(scope store.Scope) ([]domain.DiscussionTopic, error) {
		return store.ListTopicsTx(entities.DB(), scope)
	}
}

func TestStoreStatesFollowRows(t *testing.T) {
	entities := newTestEntities(t)
	scope := store.Where(store.TopicContextCode, "course_1")

	s := New(entities, scope, topicQuery(entities))
	defer s.Close()
	if got := s.State(); got != StateEmpty {
		t.Fatalf("no rows yet, expected empty, got %s", got)
	}

	seedTopics(t, entities, domain.DiscussionTopic{ID: "1", ContextCode: "course_1", Title: "a"})
	if got := s.State(); got != StateData {
		t.Fatalf("expected data after commit, got %s", got)
	}
	items := s.Items()
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestStoreNotifiesOnCommit(t *testing.T) {
	entities := newTestEntities(t)
	s := New(entities, store.Where(store.TopicContextCode, "course_1"), topicQuery(entities))
	defer s.Close()

	// Drain the initial-load notification.
	select {
	case <-s.Changes():
	default:
	}

	seedTopics(t, entities, domain.DiscussionTopic{ID: "1", ContextCode: "course_1"})
	select {
	case <-s.Changes():
	default:
		t.Fatal("commit must signal the changes channel")
	}

	// Notifications coalesce: two quick writes leave at most one signal, and
	// the state read afterwards is the newest.
	seedTopics(t, entities, domain.DiscussionTopic{ID: "2", ContextCode: "course_1"})
	seedTopics(t, entities, domain.DiscussionTopic{ID: "3", ContextCode: "course_1"})
	<-s.Changes()
	if got := len(s.Items()); got != 3 {
		t.Fatalf("expected newest snapshot after drain, got %d items", got)
	}
}

func TestStoreScopeFiltersOtherContexts(t *testing.T) {
	entities := newTestEntities(t)
	seedTopics(t, entities,
		domain.DiscussionTopic{ID: "1", ContextCode: "course_1"},
		domain.DiscussionTopic{ID: "2", ContextCode: "course_2"},
	)
	s := New(entities, store.Where(store.TopicContextCode, "course_1"), topicQuery(entities))
	defer s.Close()

	items := s.Items()
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("scope leak: %+v", items)
	}
}

func TestSectionsGroupConsecutiveKeys(t *testing.T) {
	entities := newTestEntities(t)
	seedTopics(t, entities,
		domain.DiscussionTopic{ID: "1", ContextCode: "course_1", Pinned: true, Position: 1},
		domain.DiscussionTopic{ID: "2", ContextCode: "course_1", Pinned: true, Position: 2},
		domain.DiscussionTopic{ID: "3", ContextCode: "course_1", Position: 3},
	)
	scope := store.Scope{
		Conds: []store.Cond{store.Eq(store.TopicContextCode, "course_1")},
		Orders: []store.Order{
			{Col: store.TopicPinned, Desc: true},
			{Col: store.TopicPosition},
		},
	}
	s := New(entities, scope, topicQuery(entities), WithSectionKey(func(topic domain.DiscussionTopic) string {
		if topic.Pinned {
			return "pinned"
		}
		return "discussions"
	}))
	defer s.Close()

	sections := s.Sections()
	if len(sections) != 2 {
		t.Fatalf("expected two sections, got %+v", sections)
	}
	if sections[0].Key != "pinned" || len(sections[0].Items) != 2 {
		t.Fatalf("bad pinned section: %+v", sections[0])
	}
	if sections[1].Key != "discussions" || len(sections[1].Items) != 1 {
		t.Fatalf("bad trailing section: %+v", sections[1])
	}
}

func TestStoreKeepsDataOverLaterError(t *testing.T) {
	entities := newTestEntities(t)
	seedTopics(t, entities, domain.DiscussionTopic{ID: "1", ContextCode: "course_1"})

	var failing bool
	query := func(scope store.Scope) ([]domain.DiscussionTopic, error) {
		if failing {
			return nil, errors.New("query broke")
		}
		return store.ListTopicsTx(entities.DB(), scope)
	}
	s := New(entities, store.Where(store.TopicContextCode, "course_1"), query)
	defer s.Close()
	if got := s.State(); got != StateData {
		t.Fatalf("expected data, got %s", got)
	}

	failing = true
	seedTopics(t, entities, domain.DiscussionTopic{ID: "2", ContextCode: "course_1"})
	if got := s.State(); got != StateData {
		t.Fatalf("stale rows beat a blank screen, got %s", got)
	}
	if s.Err() == nil {
		t.Fatal("error must still be observable")
	}
}

func TestRefreshDelegatesToRefresher(t *testing.T) {
	entities := newTestEntities(t)
	var forced bool
	s := New(entities, store.Scope{}, topicQuery(entities), WithRefresher[domain.DiscussionTopic](func(_ context.Context, force bool) error {
		forced = force
		return nil
	}))
	defer s.Close()

	if err := s.Refresh(context.Background(), true); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !forced {
		t.Fatal("force flag must pass through")
	}
}

func TestCloseDetachesHook(t *testing.T) {
	entities := newTestEntities(t)
	s := New(entities, store.Where(store.TopicContextCode, "course_1"), topicQuery(entities))
	s.Close()

	seedTopics(t, entities, domain.DiscussionTopic{ID: "1", ContextCode: "course_1"})
	select {
	case <-s.Changes():
		// The initial-load signal may still be buffered; a second one must not be.
		select {
		case <-s.Changes():
			t.Fatal("closed store must not observe commits")
		default:
		}
	default:
	}
	if len(s.Items()) != 0 {
		t.Fatal("closed store must not reload")
	}
}
