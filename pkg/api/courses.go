package api

import (
	"net/http"
	"net/url"
	"time"
)

type APICourse struct {
	ID         ID         `json:"id"`
	Name       *string    `json:"name"`
	CourseCode *string    `json:"course_code"`
	IsFavorite *bool      `json:"is_favorite"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

type APIGroup struct {
	ID       ID      `json:"id"`
	Name     *string `json:"name"`
	CourseID ID      `json:"course_id"`
}

func GetCourseRequest(courseID string) Request {
	return Request{
		Method: http.MethodGet,
		Path:   "courses/" + courseID,
		Query:  url.Values{"include[]": {"favorites", "sections"}},
	}
}

// GetGroupsRequest lists the caller's group memberships; the response is the
// full set, so the matching use case prunes rows outside it.
func GetGroupsRequest() Request {
	return Request{
		Method: http.MethodGet,
		Path:   "users/self/groups",
		Query:  url.Values{"per_page": {"100"}},
	}
}
