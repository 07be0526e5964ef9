package api

import (
	"net/http"
	"net/url"
	"time"
)

// Wire models for discussion endpoints.
// https://canvas.instructure.com/doc/api/discussion_topics.html

type APIDiscussionTopic struct {
	ID                    ID                        `json:"id"`
	Title                 *string                   `json:"title"`
	Message               *string                   `json:"message"`
	AssignmentID          ID                        `json:"assignment_id"`
	Author                *APIDiscussionParticipant `json:"author"`
	Attachments           []APIFile                 `json:"attachments"`
	GroupTopicChildren    []APIDiscussionTopicChild `json:"group_topic_children"`
	Sections              []APICourseSection        `json:"sections"`
	Permissions           *APIDiscussionPermissions `json:"permissions"`
	Published             bool                      `json:"published"`
	Locked                *bool                     `json:"locked"`
	LockedForUser         bool                      `json:"locked_for_user"`
	Pinned                *bool                     `json:"pinned"`
	Subscribed            *bool                     `json:"subscribed"`
	AllowRating           bool                      `json:"allow_rating"`
	SortByRating          bool                      `json:"sort_by_rating"`
	IsSectionSpecific     bool                      `json:"is_section_specific"`
	DiscussionSubentryCnt int                       `json:"discussion_subentry_count"`
	UnreadCount           *int                      `json:"unread_count"`
	Position              *int                      `json:"position"`
	PostedAt              *time.Time                `json:"posted_at"`
	LastReplyAt           *time.Time                `json:"last_reply_at"`
}

type APIDiscussionTopicChild struct {
	ID      ID `json:"id"`
	GroupID ID `json:"group_id"`
}

type APICourseSection struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type APIDiscussionPermissions struct {
	Attach *bool `json:"attach"`
	Update *bool `json:"update"`
	Reply  *bool `json:"reply"`
	Delete *bool `json:"delete"`
}

type APIDiscussionParticipant struct {
	ID          ID      `json:"id"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_image_url"`
	Pronouns    *string `json:"pronouns"`
}

type APIDiscussionEntry struct {
	ID        ID                   `json:"id"`
	UserID    ID                   `json:"user_id"`
	EditorID  ID                   `json:"editor_id"`
	ParentID  ID                   `json:"parent_id"`
	Message   *string              `json:"message"`
	Deleted   *bool                `json:"deleted"`
	RatingSum *int                 `json:"rating_sum"`
	Replies   []APIDiscussionEntry `json:"replies"`
	CreatedAt *time.Time           `json:"created_at"`
	UpdatedAt *time.Time           `json:"updated_at"`
}

// APIDiscussionView is the full-topic payload: flat participants, read-state
// ID sets, a rating map, the nested entry tree, and entries that arrived after
// the view was cached server-side.
type APIDiscussionView struct {
	Participants  []APIDiscussionParticipant `json:"participants"`
	UnreadEntries []ID                       `json:"unread_entries"`
	ForcedEntries []ID                       `json:"forced_entries"`
	EntryRatings  map[string]int             `json:"entry_ratings"`
	View          []APIDiscussionEntry       `json:"view"`
	NewEntries    []APIDiscussionEntry       `json:"new_entries"`
}

func GetDiscussionTopicsRequest(ctx Context, announcementsOnly bool) Request {
	q := url.Values{"per_page": {"100"}, "include[]": {"sections"}}
	path := ctx.PathComponent() + "/discussion_topics"
	if announcementsOnly {
		path = ctx.PathComponent() + "/announcements"
	}
	return Request{Method: http.MethodGet, Path: path, Query: q}
}

func GetDiscussionTopicRequest(ctx Context, topicID string) Request {
	return Request{
		Method: http.MethodGet,
		Path:   ctx.PathComponent() + "/discussion_topics/" + topicID,
		Query:  url.Values{"include[]": {"sections", "overrides"}},
	}
}

func GetDiscussionViewRequest(ctx Context, topicID string) Request {
	return Request{
		Method: http.MethodGet,
		Path:   ctx.PathComponent() + "/discussion_topics/" + topicID + "/view",
		Query:  url.Values{"include_new_entries": {"1"}},
	}
}

func PostDiscussionTopicRequest(ctx Context, form url.Values) Request {
	return Request{Method: http.MethodPost, Path: ctx.PathComponent() + "/discussion_topics", Form: form}
}

func PutDiscussionTopicRequest(ctx Context, topicID string, form url.Values) Request {
	return Request{Method: http.MethodPut, Path: ctx.PathComponent() + "/discussion_topics/" + topicID, Form: form}
}

func DeleteDiscussionTopicRequest(ctx Context, topicID string) Request {
	return Request{Method: http.MethodDelete, Path: ctx.PathComponent() + "/discussion_topics/" + topicID}
}

// SubscribeDiscussionTopicRequest subscribes with PUT and unsubscribes with
// DELETE; both answer 204.
func SubscribeDiscussionTopicRequest(ctx Context, topicID string, subscribed bool) Request {
	method := http.MethodPut
	if !subscribed {
		method = http.MethodDelete
	}
	return Request{Method: method, Path: ctx.PathComponent() + "/discussion_topics/" + topicID + "/subscribed"}
}

// PostDiscussionEntryRequest creates a root entry, or a reply to entryID when
// it is non-empty.
func PostDiscussionEntryRequest(ctx Context, topicID, entryID, message string) Request {
	path := ctx.PathComponent() + "/discussion_topics/" + topicID + "/entries"
	if entryID != "" {
		path += "/" + entryID + "/replies"
	}
	return Request{Method: http.MethodPost, Path: path, Form: url.Values{"message": {message}}}
}

func PutDiscussionEntryRequest(ctx Context, topicID, entryID, message string) Request {
	return Request{
		Method: http.MethodPut,
		Path:   ctx.PathComponent() + "/discussion_topics/" + topicID + "/entries/" + entryID,
		Form:   url.Values{"message": {message}},
	}
}

func DeleteDiscussionEntryRequest(ctx Context, topicID, entryID string) Request {
	return Request{Method: http.MethodDelete, Path: ctx.PathComponent() + "/discussion_topics/" + topicID + "/entries/" + entryID}
}

func MarkDiscussionTopicReadRequest(ctx Context, topicID string, read bool) Request {
	method := http.MethodPut
	if !read {
		method = http.MethodDelete
	}
	return Request{Method: method, Path: ctx.PathComponent() + "/discussion_topics/" + topicID + "/read"}
}

func MarkDiscussionEntriesReadRequest(ctx Context, topicID string, read, forced bool) Request {
	method := http.MethodPut
	if !read {
		method = http.MethodDelete
	}
	return Request{
		Method: method,
		Path:   ctx.PathComponent() + "/discussion_topics/" + topicID + "/read_all",
		Query:  url.Values{"forced_read_state": {boolString(forced)}},
	}
}

func MarkDiscussionEntryReadRequest(ctx Context, topicID, entryID string, read, forced bool) Request {
	method := http.MethodPut
	if !read {
		method = http.MethodDelete
	}
	return Request{
		Method: method,
		Path:   ctx.PathComponent() + "/discussion_topics/" + topicID + "/entries/" + entryID + "/read",
		Query:  url.Values{"forced_read_state": {boolString(forced)}},
	}
}

func PostDiscussionEntryRatingRequest(ctx Context, topicID, entryID string, liked bool) Request {
	rating := "0"
	if liked {
		rating = "1"
	}
	return Request{
		Method: http.MethodPost,
		Path:   ctx.PathComponent() + "/discussion_topics/" + topicID + "/entries/" + entryID + "/rating",
		Form:   url.Values{"rating": {rating}},
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
