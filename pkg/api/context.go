package api

import "fmt"

// ContextType is the owning container of a resource.
type ContextType string

const (
	ContextCourse ContextType = "course"
	ContextGroup  ContextType = "group"
	ContextUser   ContextType = "user"
)

// Context addresses a course, group, or user in request paths and in cached
// rows' contextCode columns.
type Context struct {
	Type ContextType
	ID   string
}

func CourseContext(id string) Context { return Context{Type: ContextCourse, ID: id} }
func GroupContext(id string) Context  { return Context{Type: ContextGroup, ID: id} }

// UserSelfContext addresses the authenticated user's own container.
func UserSelfContext() Context { return Context{Type: ContextUser, ID: "self"} }

// PathComponent returns the URL fragment addressing this context,
// e.g. "courses/42".
func (c Context) PathComponent() string {
	return fmt.Sprintf("%ss/%s", c.Type, c.ID)
}

// Code returns the canonical context code, e.g. "course_42".
func (c Context) Code() string {
	return fmt.Sprintf("%s_%s", c.Type, c.ID)
}
