package api

import (
	"net/http"
	"net/url"
	"time"
)

type APIAssignment struct {
	ID              ID         `json:"id"`
	CourseID        ID         `json:"course_id"`
	Name            *string    `json:"name"`
	Description     *string    `json:"description"`
	PointsPossible  *float64   `json:"points_possible"`
	DueAt           *time.Time `json:"due_at"`
	SubmissionTypes []string   `json:"submission_types"`
}

type APISubmission struct {
	ID           ID         `json:"id"`
	AssignmentID ID         `json:"assignment_id"`
	UserID       ID         `json:"user_id"`
	Attempt      *int       `json:"attempt"`
	Type         *string    `json:"submission_type"`
	Grade        *string    `json:"grade"`
	Score        *float64   `json:"score"`
	Late         *bool      `json:"late"`
	Attachments  []APIFile  `json:"attachments"`
	SubmittedAt  *time.Time `json:"submitted_at"`
}

// CreateSubmissionBody is the JSON body of the submissions endpoint; for
// upload submissions FileIDs carries every uploaded file of the batch.
type CreateSubmissionBody struct {
	Submission CreateSubmissionFields `json:"submission"`
}

type CreateSubmissionFields struct {
	SubmissionType string   `json:"submission_type"`
	TextComment    string   `json:"text_comment,omitempty"`
	Body           string   `json:"body,omitempty"`
	URL            string   `json:"url,omitempty"`
	FileIDs        []string `json:"file_ids,omitempty"`
}

func GetAssignmentRequest(courseID, assignmentID string) Request {
	return Request{
		Method: http.MethodGet,
		Path:   "courses/" + courseID + "/assignments/" + assignmentID,
		Query:  url.Values{"include[]": {"submission"}},
	}
}

func GetSubmissionsRequest(courseID, assignmentID string) Request {
	return Request{
		Method: http.MethodGet,
		Path:   "courses/" + courseID + "/assignments/" + assignmentID + "/submissions",
		Query:  url.Values{"per_page": {"100"}},
	}
}

func CreateSubmissionRequest(courseID, assignmentID string, body CreateSubmissionBody) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "courses/" + courseID + "/assignments/" + assignmentID + "/submissions",
		JSON:   body,
	}
}
