package usecase

import (
	"context"
	"net/http"
	"net/url"

	"gorm.io/gorm"

	"coursecache/pkg/api"
	"coursecache/pkg/domain"
	"coursecache/pkg/events"
	"coursecache/pkg/store"
)

// TopicsScope selects the cached discussion list for a context.
func TopicsScope(apiCtx api.Context) store.Scope {
	return store.Scope{
		Conds: []store.Cond{
			store.Eq(store.TopicContextCode, apiCtx.Code()),
			store.Eq(store.TopicIsAnnouncement, false),
		},
		Orders: []store.Order{
			{Col: store.TopicPinned, Desc: true},
			{Col: store.TopicPosition},
			{Col: store.TopicLastReplyAt, Desc: true},
		},
		Section: store.TopicPinned,
	}
}

// AnnouncementsScope selects cached announcements in server list order.
func AnnouncementsScope(apiCtx api.Context) store.Scope {
	return store.Scope{
		Conds: []store.Cond{
			store.Eq(store.TopicContextCode, apiCtx.Code()),
			store.Eq(store.TopicIsAnnouncement, true),
		},
		Orders: []store.Order{{Col: store.TopicPosition}},
	}
}

// EntriesScope selects a topic's entry tree in deterministic traversal order.
func EntriesScope(topicID string) store.Scope {
	return store.Where(store.EntryTopicID, topicID, store.Order{Col: store.EntryCreatedAt})
}

// RefreshDiscussionTopics exhausts the discussion list for a context. Pages
// merge as they arrive; rows absent from the response are kept, because a
// page is a subset, not the whole collection.
func (e *Engine) RefreshDiscussionTopics(ctx context.Context, apiCtx api.Context, force bool) error {
	return e.refreshTopicList(ctx, apiCtx, false, force)
}

// RefreshAnnouncements exhausts the announcement list. List position is
// derived from the page cursor so ordering is stable across pages.
func (e *Engine) RefreshAnnouncements(ctx context.Context, apiCtx api.Context, force bool) error {
	return e.refreshTopicList(ctx, apiCtx, true, force)
}

func (e *Engine) refreshTopicList(ctx context.Context, apiCtx api.Context, announcements, force bool) error {
	key := apiCtx.PathComponent() + "/discussions"
	if announcements {
		key = apiCtx.PathComponent() + "/announcements"
	}
	spec := FetchSpec[[]api.APIDiscussionTopic]{
		Key:     key,
		Force:   force,
		Request: api.GetDiscussionTopicsRequest(apiCtx, announcements),
		Write: func(tx *gorm.DB, resp []api.APIDiscussionTopic, meta *api.Meta) error {
			offset := 0
			if meta != nil && meta.Page > 0 && meta.PageSize > 0 {
				offset = (meta.Page - 1) * meta.PageSize
			}
			for i, item := range resp {
				if err := e.saveTopic(tx, apiCtx, item, announcements, offset+i); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return FetchAll(ctx, e, spec, nil)
}

func (e *Engine) saveTopic(tx *gorm.DB, apiCtx api.Context, item api.APIDiscussionTopic, announcement bool, position int) error {
	if item.Author != nil && item.Author.ID != "" {
		if err := store.UpsertParticipantTx(tx, participantFromAPI(*item.Author)); err != nil {
			return err
		}
	}
	return store.UpsertTopicTx(tx, topicFromAPI(apiCtx, item, announcement, position))
}

// RefreshDiscussionTopic fetches one topic with a TTL gate: repeat calls
// inside the window are local no-ops unless forced.
func (e *Engine) RefreshDiscussionTopic(ctx context.Context, apiCtx api.Context, topicID string, force bool) error {
	spec := FetchSpec[api.APIDiscussionTopic]{
		Key:     apiCtx.PathComponent() + "/discussions/" + topicID,
		Force:   force,
		Request: api.GetDiscussionTopicRequest(apiCtx, topicID),
		Write: func(tx *gorm.DB, resp api.APIDiscussionTopic, _ *api.Meta) error {
			if resp.ID == "" {
				return nil
			}
			existing, ok, err := store.FindTopicTx(tx, resp.ID.String())
			if err != nil {
				return err
			}
			position := 0
			announcement := false
			if ok {
				position = existing.Position
				announcement = existing.IsAnnouncement
			}
			return e.saveTopic(tx, apiCtx, resp, announcement, position)
		},
	}
	_, _, err := FetchOne(ctx, e, spec)
	return err
}

// SaveDiscussionTopicForm creates (empty topicID) or updates a topic from a
// form payload and merges the returned object.
func (e *Engine) SaveDiscussionTopicForm(ctx context.Context, apiCtx api.Context, topicID string, form url.Values) (domain.DiscussionTopic, error) {
	req := api.PostDiscussionTopicRequest(apiCtx, form)
	if topicID != "" {
		req = api.PutDiscussionTopicRequest(apiCtx, topicID, form)
	}
	var saved domain.DiscussionTopic
	_, _, err := Mutate(ctx, e, req, func(tx *gorm.DB, resp api.APIDiscussionTopic, _ *api.Meta) error {
		if resp.ID == "" {
			return nil
		}
		saved = topicFromAPI(apiCtx, resp, false, 0)
		return e.saveTopic(tx, apiCtx, resp, false, 0)
	})
	return saved, err
}

// DeleteDiscussionTopic removes exactly the cached rows matching the topic's
// ID scope; detached entries keep their topicID string.
func (e *Engine) DeleteDiscussionTopic(ctx context.Context, apiCtx api.Context, topicID string) error {
	_, _, err := Mutate(ctx, e, api.DeleteDiscussionTopicRequest(apiCtx, topicID),
		func(tx *gorm.DB, _ struct{}, _ *api.Meta) error {
			return store.DeleteTopicsTx(tx, store.Where(store.TopicID, topicID))
		})
	return err
}

// SetDiscussionTopicSubscribed flips the subscription flag. The local write
// is gated on the endpoint's 204 so a rejected toggle leaves the row alone.
func (e *Engine) SetDiscussionTopicSubscribed(ctx context.Context, apiCtx api.Context, topicID string, subscribed bool) error {
	_, _, err := Mutate(ctx, e, api.SubscribeDiscussionTopicRequest(apiCtx, topicID, subscribed),
		func(tx *gorm.DB, _ struct{}, meta *api.Meta) error {
			if meta == nil || meta.StatusCode != http.StatusNoContent {
				return nil
			}
			topic, ok, err := store.FindTopicTx(tx, topicID)
			if err != nil || !ok {
				return err
			}
			topic.Subscribed = subscribed
			return store.UpsertTopicTx(tx, topic)
		})
	return err
}

// RefreshDiscussionView merges the full-topic payload into the entry tree.
// Nested replies are written parent-before-child within one transaction;
// new_entries resolve their parent against rows already present, including
// ones written moments earlier in the same transaction.
func (e *Engine) RefreshDiscussionView(ctx context.Context, apiCtx api.Context, topicID string, force bool) error {
	spec := FetchSpec[api.APIDiscussionView]{
		Key:     apiCtx.PathComponent() + "/discussions/" + topicID + "/view",
		Force:   force,
		Request: api.GetDiscussionViewRequest(apiCtx, topicID),
		Write: func(tx *gorm.DB, view api.APIDiscussionView, _ *api.Meta) error {
			rs := newReadState(view)
			for _, participant := range view.Participants {
				if err := store.UpsertParticipantTx(tx, participantFromAPI(participant)); err != nil {
					return err
				}
			}
			for _, entry := range view.View {
				if err := saveEntryTree(tx, entry, topicID, "", rs); err != nil {
					return err
				}
			}
			for _, entry := range view.NewEntries {
				// Forward-reference join, not tree recursion: the parent may
				// be any row already in the store. A missing parent leaves
				// the entry a rootless orphan, which the UI tolerates.
				parentID := ""
				if entry.ParentID != "" {
					if _, ok, err := store.FindEntryTx(tx, entry.ParentID.String()); err != nil {
						return err
					} else if ok {
						parentID = entry.ParentID.String()
					}
				}
				if err := store.UpsertEntryTx(tx, entryFromAPI(entry, topicID, parentID, rs)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	_, _, err := FetchOne(ctx, e, spec)
	return err
}

func saveEntryTree(tx *gorm.DB, item api.APIDiscussionEntry, topicID, parentID string, rs readState) error {
	entry := entryFromAPI(item, topicID, parentID, rs)
	if err := store.UpsertEntryTx(tx, entry); err != nil {
		return err
	}
	for _, reply := range item.Replies {
		if err := saveEntryTree(tx, reply, topicID, entry.ID, rs); err != nil {
			return err
		}
	}
	return nil
}

// CreateDiscussionReply posts a new entry (or a reply under entryID) and
// merges the created row. Contributing to a course discussion satisfies a
// module requirement, signalled on the bus.
func (e *Engine) CreateDiscussionReply(ctx context.Context, apiCtx api.Context, topicID, entryID, message string) (domain.DiscussionEntry, error) {
	var created domain.DiscussionEntry
	_, _, err := Mutate(ctx, e, api.PostDiscussionEntryRequest(apiCtx, topicID, entryID, message),
		func(tx *gorm.DB, resp api.APIDiscussionEntry, _ *api.Meta) error {
			if resp.ID == "" {
				return nil
			}
			parentID := ""
			if resp.ParentID != "" {
				if _, ok, err := store.FindEntryTx(tx, resp.ParentID.String()); err != nil {
					return err
				} else if ok {
					parentID = resp.ParentID.String()
				}
			}
			created = entryFromAPI(resp, topicID, parentID, readState{})
			created.IsRead = true
			return store.UpsertEntryTx(tx, created)
		})
	if err != nil {
		return created, err
	}
	if apiCtx.Type == api.ContextCourse {
		e.publish(ctx, events.Event{
			ID:       "requirement-contribute-" + apiCtx.ID + "-" + topicID,
			Name:     events.ModuleItemRequirementCompleted,
			CourseID: apiCtx.ID,
			Fields:   map[string]string{"topicID": topicID, "requirement": "contribute"},
		})
	}
	return created, nil
}

// UpdateDiscussionReply edits an entry's message and merges the result over
// the cached row.
func (e *Engine) UpdateDiscussionReply(ctx context.Context, apiCtx api.Context, topicID, entryID, message string) error {
	_, _, err := Mutate(ctx, e, api.PutDiscussionEntryRequest(apiCtx, topicID, entryID, message),
		func(tx *gorm.DB, resp api.APIDiscussionEntry, _ *api.Meta) error {
			if resp.ID == "" {
				return nil
			}
			existing, ok, err := store.FindEntryTx(tx, resp.ID.String())
			if err != nil {
				return err
			}
			entry := entryFromAPI(resp, topicID, "", readState{})
			if ok {
				entry.ParentID = existing.ParentID
				entry.IsRead = existing.IsRead
				entry.IsForcedRead = existing.IsForcedRead
				entry.IsLikedByMe = existing.IsLikedByMe
				entry.LikeCount = existing.LikeCount
			}
			return store.UpsertEntryTx(tx, entry)
		})
	return err
}

// MarkDiscussionTopicRead reports the topic as viewed; there is no local row
// change, only the module-requirement signal for course contexts.
func (e *Engine) MarkDiscussionTopicRead(ctx context.Context, apiCtx api.Context, topicID string, read bool) error {
	_, _, err := api.Do[struct{}](ctx, e.API, api.MarkDiscussionTopicReadRequest(apiCtx, topicID, read))
	if err != nil {
		return err
	}
	if apiCtx.Type == api.ContextCourse {
		e.publish(ctx, events.Event{
			ID:       "requirement-view-" + apiCtx.ID + "-" + topicID,
			Name:     events.ModuleItemRequirementCompleted,
			CourseID: apiCtx.ID,
			Fields:   map[string]string{"topicID": topicID, "requirement": "view"},
		})
	}
	return nil
}

// MarkAllDiscussionEntriesRead optimistically flips every entry of the topic
// and the topic's unread count before the request resolves. On failure the
// optimistic values stay; callers may re-fetch to reconcile.
func (e *Engine) MarkAllDiscussionEntriesRead(ctx context.Context, apiCtx api.Context, topicID string, read, forced bool) error {
	return Optimistic(ctx, e, api.MarkDiscussionEntriesReadRequest(apiCtx, topicID, read, forced),
		func(tx *gorm.DB) error {
			entries, err := store.ListEntriesTx(tx, EntriesScope(topicID))
			if err != nil {
				return err
			}
			for _, entry := range entries {
				entry.IsRead = read
				entry.IsForcedRead = forced
				if err := store.UpsertEntryTx(tx, entry); err != nil {
					return err
				}
			}
			topic, ok, err := store.FindTopicTx(tx, topicID)
			if err != nil || !ok {
				return err
			}
			if read {
				topic.UnreadCount = 0
			} else {
				topic.UnreadCount = len(entries)
			}
			return store.UpsertTopicTx(tx, topic)
		})
}

// MarkDiscussionEntryRead optimistically updates one entry and recounts the
// topic's unread total.
func (e *Engine) MarkDiscussionEntryRead(ctx context.Context, apiCtx api.Context, topicID, entryID string, read, forced bool) error {
	return Optimistic(ctx, e, api.MarkDiscussionEntryReadRequest(apiCtx, topicID, entryID, read, forced),
		func(tx *gorm.DB) error {
			entry, ok, err := store.FindEntryTx(tx, entryID)
			if err != nil || !ok {
				return err
			}
			entry.IsRead = read
			entry.IsForcedRead = forced
			if err := store.UpsertEntryTx(tx, entry); err != nil {
				return err
			}
			unread, err := store.CountEntriesTx(tx, EntriesScope(topicID).And(store.Eq(store.EntryIsRead, false)))
			if err != nil {
				return err
			}
			topic, ok, err := store.FindTopicTx(tx, topicID)
			if err != nil || !ok {
				return err
			}
			topic.UnreadCount = unread
			return store.UpsertTopicTx(tx, topic)
		})
}

// RateDiscussionEntry optimistically flips the caller's like and adjusts the
// visible count by one.
func (e *Engine) RateDiscussionEntry(ctx context.Context, apiCtx api.Context, topicID, entryID string, liked bool) error {
	return Optimistic(ctx, e, api.PostDiscussionEntryRatingRequest(apiCtx, topicID, entryID, liked),
		func(tx *gorm.DB) error {
			entry, ok, err := store.FindEntryTx(tx, entryID)
			if err != nil || !ok {
				return err
			}
			if entry.IsLikedByMe == liked {
				return nil
			}
			entry.IsLikedByMe = liked
			if liked {
				entry.LikeCount++
			} else if entry.LikeCount > 0 {
				entry.LikeCount--
			}
			return store.UpsertEntryTx(tx, entry)
		})
}

// DeleteDiscussionEntry tombstones the entry once the server confirms; the
// row stays so the tree keeps its shape under the removed node.
func (e *Engine) DeleteDiscussionEntry(ctx context.Context, apiCtx api.Context, topicID, entryID string) error {
	_, _, err := Mutate(ctx, e, api.DeleteDiscussionEntryRequest(apiCtx, topicID, entryID),
		func(tx *gorm.DB, _ struct{}, meta *api.Meta) error {
			if meta == nil || meta.StatusCode != http.StatusNoContent {
				return nil
			}
			entry, ok, err := store.FindEntryTx(tx, entryID)
			if err != nil || !ok {
				return err
			}
			entry.IsRemoved = true
			return store.UpsertEntryTx(tx, entry)
		})
	return err
}
