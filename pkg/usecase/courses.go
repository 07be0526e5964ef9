package usecase

import (
	"context"

	"gorm.io/gorm"

	"coursecache/pkg/api"
	"coursecache/pkg/store"
)

// RefreshCourse fetches one course detail behind the TTL gate.
func (e *Engine) RefreshCourse(ctx context.Context, courseID string, force bool) error {
	spec := FetchSpec[api.APICourse]{
		Key:     "courses/" + courseID,
		Force:   force,
		Request: api.GetCourseRequest(courseID),
		Write: func(tx *gorm.DB, resp api.APICourse, _ *api.Meta) error {
			if resp.ID == "" {
				return nil
			}
			return store.UpsertCourseTx(tx, courseFromAPI(resp))
		},
	}
	_, _, err := FetchOne(ctx, e, spec)
	return err
}

// RefreshGroups replaces the cached group memberships with the server's set.
// Unlike page merges, this endpoint is source-of-truth: groups missing from
// the response are pruned, and an empty response empties the cache.
func (e *Engine) RefreshGroups(ctx context.Context, force bool) error {
	var (
		seen    []string
		fetched bool
	)
	spec := FetchSpec[[]api.APIGroup]{
		Key:     "users/self/groups",
		Force:   force,
		Request: api.GetGroupsRequest(),
		Write: func(tx *gorm.DB, resp []api.APIGroup, _ *api.Meta) error {
			fetched = true
			for _, item := range resp {
				g := groupFromAPI(item)
				seen = append(seen, g.ID)
				if err := store.UpsertGroupTx(tx, g); err != nil {
					return err
				}
			}
			return nil
		},
	}
	if err := FetchAll(ctx, e, spec, nil); err != nil {
		return err
	}
	if !fetched {
		// TTL short-circuit: nothing fetched, nothing to prune.
		return nil
	}
	return e.Store.Write(ctx, func(tx *gorm.DB) error {
		return store.PruneGroupsTx(tx, seen)
	})
}

// RefreshAssignment fetches one assignment detail behind the TTL gate.
func (e *Engine) RefreshAssignment(ctx context.Context, courseID, assignmentID string, force bool) error {
	spec := FetchSpec[api.APIAssignment]{
		Key:     "courses/" + courseID + "/assignments/" + assignmentID,
		Force:   force,
		Request: api.GetAssignmentRequest(courseID, assignmentID),
		Write: func(tx *gorm.DB, resp api.APIAssignment, _ *api.Meta) error {
			if resp.ID == "" {
				return nil
			}
			a := assignmentFromAPI(resp)
			if a.CourseID == "" {
				a.CourseID = courseID
			}
			return store.UpsertAssignmentTx(tx, a)
		},
	}
	_, _, err := FetchOne(ctx, e, spec)
	return err
}

// RefreshSubmissions exhausts the submission list for an assignment.
func (e *Engine) RefreshSubmissions(ctx context.Context, courseID, assignmentID string, force bool) error {
	spec := FetchSpec[[]api.APISubmission]{
		Key:     "courses/" + courseID + "/assignments/" + assignmentID + "/submissions",
		Force:   force,
		Request: api.GetSubmissionsRequest(courseID, assignmentID),
		Write: func(tx *gorm.DB, resp []api.APISubmission, _ *api.Meta) error {
			for _, item := range resp {
				s := submissionFromAPI(item)
				if s.AssignmentID == "" {
					s.AssignmentID = assignmentID
				}
				if err := store.UpsertSubmissionTx(tx, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return FetchAll(ctx, e, spec, nil)
}
