package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"coursecache/pkg/domain"
)

// GORM models used for persistence. Kept separate from pkg/domain so wire and
// cache concerns never leak into entity types.

type CourseModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	CourseCode string
	IsFavorite bool
	UpdatedAt  time.Time
}

type GroupModel struct {
	ID       string `gorm:"primaryKey"`
	Name     string `gorm:"not null"`
	CourseID string `gorm:"index"`
}

type DiscussionTopicModel struct {
	ID                 string `gorm:"primaryKey"`
	ContextCode        string `gorm:"not null;index"`
	Title              string
	Message            string
	AuthorID           string
	AssignmentID       string
	AttachmentIDs      datatypes.JSON
	IsAnnouncement     bool `gorm:"index"`
	Published          bool
	Locked             bool
	LockedForUser      bool
	Pinned             bool
	Subscribed         bool
	AllowRating        bool
	SortByRating       bool
	SectionSpecific    bool
	SubentryCount      int
	UnreadCount        int
	Position           int
	GroupTopicChildren datatypes.JSON
	Sections           datatypes.JSON
	Permissions        datatypes.JSON
	PostedAt           time.Time
	LastReplyAt        time.Time
}

type DiscussionParticipantModel struct {
	ID          string `gorm:"primaryKey"`
	DisplayName string
	AvatarURL   string
	Pronouns    string
}

type DiscussionEntryModel struct {
	ID           string `gorm:"primaryKey"`
	TopicID      string `gorm:"not null;index"`
	ParentID     string `gorm:"index"`
	AuthorID     string
	Message      string
	IsRead       bool
	IsForcedRead bool
	IsLikedByMe  bool
	IsRemoved    bool
	LikeCount    int
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

type AssignmentModel struct {
	ID              string `gorm:"primaryKey"`
	CourseID        string `gorm:"index"`
	Name            string
	Description     string
	PointsPossible  float64
	DueAt           time.Time
	SubmissionTypes datatypes.JSON
}

type SubmissionModel struct {
	ID           string `gorm:"primaryKey"`
	AssignmentID string `gorm:"not null;index"`
	UserID       string `gorm:"index"`
	Attempt      int
	Type         string
	Grade        string
	Score        float64
	Late         bool
	FileIDs      datatypes.JSON
	SubmittedAt  time.Time
}

// FileUploadModel additionally persists each protocol leg's raw response
// (TargetData/UploadData/SubmitData) so recovery after a process restart can
// replay decisions without re-deriving them from transient task state.
type FileUploadModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	BatchID      string `gorm:"index"`
	CourseID     string
	AssignmentID string
	Comment      string
	Filename     string
	LocalPath    string
	StagingKey   string
	ContentHash  string
	ContentType  string
	PageCount    int
	Size         int64
	BytesSent    int64
	TaskID       int64  `gorm:"index"`
	SessionID    string `gorm:"index"`
	Step         string
	State        string `gorm:"not null"`
	RemoteFileID string
	ErrorMessage string
	TargetData   datatypes.JSON
	UploadData   datatypes.JSON
	SubmitData   datatypes.JSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func allModels() []any {
	return []any{
		&CourseModel{},
		&GroupModel{},
		&DiscussionTopicModel{},
		&DiscussionParticipantModel{},
		&DiscussionEntryModel{},
		&AssignmentModel{},
		&SubmissionModel{},
		&FileUploadModel{},
	}
}

func courseToModel(c domain.Course) CourseModel {
	return CourseModel{
		ID:         c.ID,
		Name:       c.Name,
		CourseCode: c.CourseCode,
		IsFavorite: c.IsFavorite,
		UpdatedAt:  c.UpdatedAt,
	}
}

func courseFromModel(m CourseModel) domain.Course {
	return domain.Course{
		ID:         m.ID,
		Name:       m.Name,
		CourseCode: m.CourseCode,
		IsFavorite: m.IsFavorite,
		UpdatedAt:  m.UpdatedAt,
	}
}

func groupToModel(g domain.Group) GroupModel {
	return GroupModel{ID: g.ID, Name: g.Name, CourseID: g.CourseID}
}

func groupFromModel(m GroupModel) domain.Group {
	return domain.Group{ID: m.ID, Name: m.Name, CourseID: m.CourseID}
}

func topicToModel(t domain.DiscussionTopic) DiscussionTopicModel {
	attachments, _ := json.Marshal(t.AttachmentIDs)
	children, _ := json.Marshal(t.GroupTopicChildren)
	sections, _ := json.Marshal(t.Sections)
	permissions, _ := json.Marshal(t.Permissions)
	return DiscussionTopicModel{
		ID:                 t.ID,
		ContextCode:        t.ContextCode,
		Title:              t.Title,
		Message:            t.Message,
		AuthorID:           t.AuthorID,
		AssignmentID:       t.AssignmentID,
		AttachmentIDs:      attachments,
		IsAnnouncement:     t.IsAnnouncement,
		Published:          t.Published,
		Locked:             t.Locked,
		LockedForUser:      t.LockedForUser,
		Pinned:             t.Pinned,
		Subscribed:         t.Subscribed,
		AllowRating:        t.AllowRating,
		SortByRating:       t.SortByRating,
		SectionSpecific:    t.SectionSpecific,
		SubentryCount:      t.SubentryCount,
		UnreadCount:        t.UnreadCount,
		Position:           t.Position,
		GroupTopicChildren: children,
		Sections:           sections,
		Permissions:        permissions,
		PostedAt:           t.PostedAt,
		LastReplyAt:        t.LastReplyAt,
	}
}

func topicFromModel(m DiscussionTopicModel) domain.DiscussionTopic {
	t := domain.DiscussionTopic{
		ID:              m.ID,
		ContextCode:     m.ContextCode,
		Title:           m.Title,
		Message:         m.Message,
		AuthorID:        m.AuthorID,
		AssignmentID:    m.AssignmentID,
		IsAnnouncement:  m.IsAnnouncement,
		Published:       m.Published,
		Locked:          m.Locked,
		LockedForUser:   m.LockedForUser,
		Pinned:          m.Pinned,
		Subscribed:      m.Subscribed,
		AllowRating:     m.AllowRating,
		SortByRating:    m.SortByRating,
		SectionSpecific: m.SectionSpecific,
		SubentryCount:   m.SubentryCount,
		UnreadCount:     m.UnreadCount,
		Position:        m.Position,
		PostedAt:        m.PostedAt,
		LastReplyAt:     m.LastReplyAt,
	}
	if len(m.AttachmentIDs) > 0 {
		_ = json.Unmarshal(m.AttachmentIDs, &t.AttachmentIDs)
	}
	if len(m.GroupTopicChildren) > 0 {
		_ = json.Unmarshal(m.GroupTopicChildren, &t.GroupTopicChildren)
	}
	if len(m.Sections) > 0 {
		_ = json.Unmarshal(m.Sections, &t.Sections)
	}
	if len(m.Permissions) > 0 {
		_ = json.Unmarshal(m.Permissions, &t.Permissions)
	}
	return t
}

func participantToModel(p domain.DiscussionParticipant) DiscussionParticipantModel {
	return DiscussionParticipantModel{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Pronouns:    p.Pronouns,
	}
}

func participantFromModel(m DiscussionParticipantModel) domain.DiscussionParticipant {
	return domain.DiscussionParticipant{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		Pronouns:    m.Pronouns,
	}
}

func entryToModel(e domain.DiscussionEntry) DiscussionEntryModel {
	return DiscussionEntryModel{
		ID:           e.ID,
		TopicID:      e.TopicID,
		ParentID:     e.ParentID,
		AuthorID:     e.AuthorID,
		Message:      e.Message,
		IsRead:       e.IsRead,
		IsForcedRead: e.IsForcedRead,
		IsLikedByMe:  e.IsLikedByMe,
		IsRemoved:    e.IsRemoved,
		LikeCount:    e.LikeCount,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func entryFromModel(m DiscussionEntryModel) domain.DiscussionEntry {
	return domain.DiscussionEntry{
		ID:           m.ID,
		TopicID:      m.TopicID,
		ParentID:     m.ParentID,
		AuthorID:     m.AuthorID,
		Message:      m.Message,
		IsRead:       m.IsRead,
		IsForcedRead: m.IsForcedRead,
		IsLikedByMe:  m.IsLikedByMe,
		IsRemoved:    m.IsRemoved,
		LikeCount:    m.LikeCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func assignmentToModel(a domain.Assignment) AssignmentModel {
	types, _ := json.Marshal(a.SubmissionTypes)
	return AssignmentModel{
		ID:              a.ID,
		CourseID:        a.CourseID,
		Name:            a.Name,
		Description:     a.Description,
		PointsPossible:  a.PointsPossible,
		DueAt:           a.DueAt,
		SubmissionTypes: types,
	}
}

func assignmentFromModel(m AssignmentModel) domain.Assignment {
	a := domain.Assignment{
		ID:             m.ID,
		CourseID:       m.CourseID,
		Name:           m.Name,
		Description:    m.Description,
		PointsPossible: m.PointsPossible,
		DueAt:          m.DueAt,
	}
	if len(m.SubmissionTypes) > 0 {
		_ = json.Unmarshal(m.SubmissionTypes, &a.SubmissionTypes)
	}
	return a
}

func submissionToModel(s domain.Submission) SubmissionModel {
	fileIDs, _ := json.Marshal(s.FileIDs)
	return SubmissionModel{
		ID:           s.ID,
		AssignmentID: s.AssignmentID,
		UserID:       s.UserID,
		Attempt:      s.Attempt,
		Type:         s.Type,
		Grade:        s.Grade,
		Score:        s.Score,
		Late:         s.Late,
		FileIDs:      fileIDs,
		SubmittedAt:  s.SubmittedAt,
	}
}

func submissionFromModel(m SubmissionModel) domain.Submission {
	s := domain.Submission{
		ID:           m.ID,
		AssignmentID: m.AssignmentID,
		UserID:       m.UserID,
		Attempt:      m.Attempt,
		Type:         m.Type,
		Grade:        m.Grade,
		Score:        m.Score,
		Late:         m.Late,
		SubmittedAt:  m.SubmittedAt,
	}
	if len(m.FileIDs) > 0 {
		_ = json.Unmarshal(m.FileIDs, &s.FileIDs)
	}
	return s
}

func uploadToModel(f domain.FileUpload) FileUploadModel {
	return FileUploadModel{
		ID:           f.ID,
		UserID:       f.UserID,
		BatchID:      f.BatchID,
		CourseID:     f.CourseID,
		AssignmentID: f.AssignmentID,
		Comment:      f.Comment,
		Filename:     f.Filename,
		LocalPath:    f.LocalPath,
		StagingKey:   f.StagingKey,
		ContentHash:  f.ContentHash,
		ContentType:  f.ContentType,
		PageCount:    f.PageCount,
		Size:         f.Size,
		BytesSent:    f.BytesSent,
		TaskID:       f.TaskID,
		SessionID:    f.SessionID,
		Step:         string(f.Step),
		State:        string(f.State),
		RemoteFileID: f.RemoteFileID,
		ErrorMessage: f.ErrorMessage,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

func uploadFromModel(m FileUploadModel) domain.FileUpload {
	return domain.FileUpload{
		ID:           m.ID,
		UserID:       m.UserID,
		BatchID:      m.BatchID,
		CourseID:     m.CourseID,
		AssignmentID: m.AssignmentID,
		Comment:      m.Comment,
		Filename:     m.Filename,
		LocalPath:    m.LocalPath,
		StagingKey:   m.StagingKey,
		ContentHash:  m.ContentHash,
		ContentType:  m.ContentType,
		PageCount:    m.PageCount,
		Size:         m.Size,
		BytesSent:    m.BytesSent,
		TaskID:       m.TaskID,
		SessionID:    m.SessionID,
		Step:         domain.UploadStep(m.Step),
		State:        domain.UploadState(m.State),
		RemoteFileID: m.RemoteFileID,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
