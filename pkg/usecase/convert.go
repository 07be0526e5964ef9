package usecase

import (
	"time"

	"coursecache/pkg/api"
	"coursecache/pkg/domain"
)

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func boolVal(p *bool) bool {
	return p != nil && *p
}

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func int64Val(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func floatVal(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func timeVal(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

func courseFromAPI(item api.APICourse) domain.Course {
	return domain.Course{
		ID:         item.ID.String(),
		Name:       strVal(item.Name),
		CourseCode: strVal(item.CourseCode),
		IsFavorite: boolVal(item.IsFavorite),
		UpdatedAt:  timeVal(item.UpdatedAt),
	}
}

func groupFromAPI(item api.APIGroup) domain.Group {
	return domain.Group{
		ID:       item.ID.String(),
		Name:     strVal(item.Name),
		CourseID: item.CourseID.String(),
	}
}

func topicFromAPI(apiCtx api.Context, item api.APIDiscussionTopic, isAnnouncement bool, position int) domain.DiscussionTopic {
	t := domain.DiscussionTopic{
		ID:              item.ID.String(),
		ContextCode:     apiCtx.Code(),
		Title:           strVal(item.Title),
		Message:         strVal(item.Message),
		AssignmentID:    item.AssignmentID.String(),
		IsAnnouncement:  isAnnouncement,
		Published:       item.Published,
		Locked:          boolVal(item.Locked),
		LockedForUser:   item.LockedForUser,
		Pinned:          boolVal(item.Pinned),
		Subscribed:      boolVal(item.Subscribed),
		AllowRating:     item.AllowRating,
		SortByRating:    item.SortByRating,
		SectionSpecific: item.IsSectionSpecific,
		SubentryCount:   item.DiscussionSubentryCnt,
		UnreadCount:     intVal(item.UnreadCount),
		Position:        position,
		PostedAt:        timeVal(item.PostedAt),
		LastReplyAt:     timeVal(item.LastReplyAt),
	}
	if item.Position != nil {
		t.Position = *item.Position
	}
	if item.Author != nil && item.Author.ID != "" {
		t.AuthorID = item.Author.ID.String()
	}
	for _, file := range item.Attachments {
		t.AttachmentIDs = append(t.AttachmentIDs, file.ID.String())
	}
	if len(item.GroupTopicChildren) > 0 {
		t.GroupTopicChildren = map[string]string{}
		for _, child := range item.GroupTopicChildren {
			t.GroupTopicChildren[child.GroupID.String()] = child.ID.String()
		}
	}
	for _, section := range item.Sections {
		t.Sections = append(t.Sections, section.ID.String())
	}
	if p := item.Permissions; p != nil {
		t.Permissions = domain.DiscussionPermissions{
			CanAttach: boolVal(p.Attach),
			CanUpdate: boolVal(p.Update),
			CanDelete: boolVal(p.Delete),
			CanReply:  boolVal(p.Reply),
		}
	}
	return t
}

func participantFromAPI(item api.APIDiscussionParticipant) domain.DiscussionParticipant {
	return domain.DiscussionParticipant{
		ID:          item.ID.String(),
		DisplayName: strVal(item.DisplayName),
		AvatarURL:   strVal(item.AvatarURL),
		Pronouns:    strVal(item.Pronouns),
	}
}

// readState is the per-view read/like bookkeeping shipped alongside entries.
type readState struct {
	unread  map[string]struct{}
	forced  map[string]struct{}
	ratings map[string]int
}

func newReadState(view api.APIDiscussionView) readState {
	rs := readState{
		unread:  make(map[string]struct{}, len(view.UnreadEntries)),
		forced:  make(map[string]struct{}, len(view.ForcedEntries)),
		ratings: view.EntryRatings,
	}
	for _, id := range view.UnreadEntries {
		rs.unread[id.String()] = struct{}{}
	}
	for _, id := range view.ForcedEntries {
		rs.forced[id.String()] = struct{}{}
	}
	return rs
}

func entryFromAPI(item api.APIDiscussionEntry, topicID, parentID string, rs readState) domain.DiscussionEntry {
	id := item.ID.String()
	authorID := item.UserID.String()
	if authorID == "" {
		authorID = item.EditorID.String()
	}
	_, unread := rs.unread[id]
	_, forced := rs.forced[id]
	return domain.DiscussionEntry{
		ID:           id,
		TopicID:      topicID,
		ParentID:     parentID,
		AuthorID:     authorID,
		Message:      strVal(item.Message),
		IsRead:       !unread,
		IsForcedRead: forced,
		IsLikedByMe:  rs.ratings[id] > 0,
		IsRemoved:    boolVal(item.Deleted),
		LikeCount:    intVal(item.RatingSum),
		CreatedAt:    timeVal(item.CreatedAt),
		UpdatedAt:    timeVal(item.UpdatedAt),
	}
}

func assignmentFromAPI(item api.APIAssignment) domain.Assignment {
	return domain.Assignment{
		ID:              item.ID.String(),
		CourseID:        item.CourseID.String(),
		Name:            strVal(item.Name),
		Description:     strVal(item.Description),
		PointsPossible:  floatVal(item.PointsPossible),
		DueAt:           timeVal(item.DueAt),
		SubmissionTypes: item.SubmissionTypes,
	}
}

func submissionFromAPI(item api.APISubmission) domain.Submission {
	s := domain.Submission{
		ID:           item.ID.String(),
		AssignmentID: item.AssignmentID.String(),
		UserID:       item.UserID.String(),
		Attempt:      intVal(item.Attempt),
		Type:         strVal(item.Type),
		Grade:        strVal(item.Grade),
		Score:        floatVal(item.Score),
		Late:         boolVal(item.Late),
		SubmittedAt:  timeVal(item.SubmittedAt),
	}
	for _, file := range item.Attachments {
		s.FileIDs = append(s.FileIDs, file.ID.String())
	}
	return s
}
