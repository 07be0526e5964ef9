package store

import (
	"fmt"

	"gorm.io/gorm"
)

// Column is a typed reference to a filterable/sortable column. Scope
// construction goes through these constants so a query can never name a
// renamed or nonexistent field.
type Column string

// DiscussionTopicModel columns.
const (
	TopicID             Column = "id"
	TopicContextCode    Column = "context_code"
	TopicIsAnnouncement Column = "is_announcement"
	TopicPinned         Column = "pinned"
	TopicPosition       Column = "position"
	TopicLastReplyAt    Column = "last_reply_at"
)

// DiscussionEntryModel columns.
const (
	EntryID        Column = "id"
	EntryTopicID   Column = "topic_id"
	EntryParentID  Column = "parent_id"
	EntryIsRead    Column = "is_read"
	EntryCreatedAt Column = "created_at"
)

// FileUploadModel columns.
const (
	UploadID      Column = "id"
	UploadUserID  Column = "user_id"
	UploadBatchID Column = "batch_id"
	UploadState   Column = "state"
	UploadSize    Column = "size"
)

// GroupModel / CourseModel / SubmissionModel columns.
const (
	GroupID              Column = "id"
	GroupCourseID        Column = "course_id"
	CourseID             Column = "id"
	SubmissionAssignment Column = "assignment_id"
	SubmissionUserID     Column = "user_id"
)

type Op string

const (
	OpEq Op = "="
	OpNe Op = "<>"
	OpIn Op = "IN"
)

type Cond struct {
	Col Column
	Op  Op
	Val any
}

func Eq(col Column, val any) Cond { return Cond{Col: col, Op: OpEq, Val: val} }
func Ne(col Column, val any) Cond { return Cond{Col: col, Op: OpNe, Val: val} }
func In(col Column, vals any) Cond {
	return Cond{Col: col, Op: OpIn, Val: vals}
}

type Order struct {
	Col  Column
	Desc bool
}

// Scope is a declarative live-view descriptor: predicate, ordering, and an
// optional section column. The same Scope against the same store state always
// yields the same ordered result; a trailing id tie-break makes that hold even
// for equal sort keys.
type Scope struct {
	Conds   []Cond
	Orders  []Order
	Section Column
}

// Where builds a single-condition Scope ordered by id.
func Where(col Column, val any, orders ...Order) Scope {
	return Scope{Conds: []Cond{Eq(col, val)}, Orders: orders}
}

// And returns a copy of s with an extra condition.
func (s Scope) And(c Cond) Scope {
	out := s
	out.Conds = append(append([]Cond{}, s.Conds...), c)
	return out
}

// Apply narrows tx to the scope's predicate and ordering.
func (s Scope) Apply(tx *gorm.DB) *gorm.DB {
	for _, c := range s.Conds {
		switch c.Op {
		case OpIn:
			tx = tx.Where(fmt.Sprintf("%s IN ?", c.Col), c.Val)
		default:
			tx = tx.Where(fmt.Sprintf("%s %s ?", c.Col, c.Op), c.Val)
		}
	}
	for _, o := range s.Orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("%s %s", o.Col, dir))
	}
	return tx.Order("id ASC")
}
