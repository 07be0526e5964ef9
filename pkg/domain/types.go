package domain

import "time"

type UploadState string

const (
	UploadStaged          UploadState = "staged"
	UploadTargetRequested UploadState = "target_requested"
	UploadUploading       UploadState = "uploading"
	UploadUploaded        UploadState = "uploaded"
	UploadCompleted       UploadState = "completed"
	UploadFailed          UploadState = "failed"
)

// UploadStep identifies which leg of the upload protocol a network task belongs to.
type UploadStep string

const (
	StepTarget UploadStep = "target"
	StepUpload UploadStep = "upload"
	StepSubmit UploadStep = "submit"
)

type SubmissionType string

const (
	SubmissionOnlineUpload    SubmissionType = "online_upload"
	SubmissionOnlineTextEntry SubmissionType = "online_text_entry"
	SubmissionOnlineURL       SubmissionType = "online_url"
)

type Course struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CourseCode string    `json:"courseCode"`
	IsFavorite bool      `json:"isFavorite"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CourseID string `json:"courseId,omitempty"`
}

type DiscussionPermissions struct {
	CanAttach bool `json:"canAttach"`
	CanUpdate bool `json:"canUpdate"`
	CanDelete bool `json:"canDelete"`
	CanReply  bool `json:"canReply"`
}

type DiscussionTopic struct {
	ID              string `json:"id"`
	ContextCode     string `json:"contextCode"`
	Title           string `json:"title"`
	Message         string `json:"message"`
	AuthorID        string `json:"authorId,omitempty"`
	AssignmentID    string `json:"assignmentId,omitempty"`
	AttachmentIDs   []string `json:"attachmentIds,omitempty"`
	IsAnnouncement  bool   `json:"isAnnouncement"`
	Published       bool   `json:"published"`
	Locked          bool   `json:"locked"`
	LockedForUser   bool   `json:"lockedForUser"`
	Pinned          bool   `json:"pinned"`
	Subscribed      bool   `json:"subscribed"`
	AllowRating     bool   `json:"allowRating"`
	SortByRating    bool   `json:"sortByRating"`
	SectionSpecific bool   `json:"sectionSpecific"`
	SubentryCount   int    `json:"subentryCount"`
	UnreadCount     int    `json:"unreadCount"`
	Position        int    `json:"position"`
	// GroupTopicChildren redirects a course-level topic to the group-specific
	// copy for users belonging to that group. Keyed by group ID.
	GroupTopicChildren map[string]string     `json:"groupTopicChildren,omitempty"`
	Sections           []string              `json:"sections,omitempty"`
	Permissions        DiscussionPermissions `json:"permissions"`
	PostedAt           time.Time             `json:"postedAt"`
	LastReplyAt        time.Time             `json:"lastReplyAt"`
}

type DiscussionParticipant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Pronouns    string `json:"pronouns,omitempty"`
}

type DiscussionEntry struct {
	ID           string    `json:"id"`
	TopicID      string    `json:"topicId"`
	ParentID     string    `json:"parentId,omitempty"`
	AuthorID     string    `json:"authorId,omitempty"`
	Message      string    `json:"message"`
	IsRead       bool      `json:"isRead"`
	IsForcedRead bool      `json:"isForcedRead"`
	IsLikedByMe  bool      `json:"isLikedByMe"`
	IsRemoved    bool      `json:"isRemoved"`
	LikeCount    int       `json:"likeCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Assignment struct {
	ID              string    `json:"id"`
	CourseID        string    `json:"courseId"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	PointsPossible  float64   `json:"pointsPossible"`
	DueAt           time.Time `json:"dueAt"`
	SubmissionTypes []string  `json:"submissionTypes,omitempty"`
}

type Submission struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignmentId"`
	UserID       string    `json:"userId"`
	Attempt      int       `json:"attempt"`
	Type         string    `json:"type,omitempty"`
	Grade        string    `json:"grade,omitempty"`
	Score        float64   `json:"score"`
	Late         bool      `json:"late"`
	FileIDs      []string  `json:"fileIds,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// FileUpload tracks one file's journey from local disk to a submitted remote
// file. TaskID is transient and only meaningful while a transfer is live;
// SessionID is durable and survives process restarts.
type FileUpload struct {
	ID           string      `json:"id"`
	UserID       string      `json:"userId"`
	BatchID      string      `json:"batchId,omitempty"`
	CourseID     string      `json:"courseId,omitempty"`
	AssignmentID string      `json:"assignmentId,omitempty"`
	Comment      string      `json:"comment,omitempty"`
	Filename     string      `json:"filename"`
	LocalPath    string      `json:"localPath,omitempty"`
	StagingKey   string      `json:"stagingKey,omitempty"`
	ContentHash  string      `json:"contentHash,omitempty"`
	ContentType  string      `json:"contentType,omitempty"`
	PageCount    int         `json:"pageCount,omitempty"`
	Size         int64       `json:"size"`
	BytesSent    int64       `json:"bytesSent"`
	TaskID       int64       `json:"taskId,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
	Step         UploadStep  `json:"step,omitempty"`
	State        UploadState `json:"state"`
	RemoteFileID string      `json:"remoteFileId,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Submittable reports whether the upload belongs to an assignment submission
// context, i.e. whether leg three applies to it.
func (f FileUpload) Submittable() bool {
	return f.CourseID != "" && f.AssignmentID != ""
}

// Terminal reports whether the upload reached a state after which progress
// fields are frozen.
func (f FileUpload) Terminal() bool {
	switch f.State {
	case UploadCompleted, UploadFailed:
		return true
	}
	return false
}
