package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"coursecache/pkg/domain"
)

// ErrNotFound is returned when an operation requires a cached row that does
// not exist, e.g. queueing an upload against an assignment never fetched.
var ErrNotFound = errors.New("store: not found")

// EntityStore is the local persistent object graph of server resources.
// Reads go straight to the database; every mutation goes through Write, the
// single serialized write region, so concurrent write requests queue rather
// than interleave.
type EntityStore struct {
	db *gorm.DB

	writeMu sync.Mutex

	hookMu   sync.Mutex
	hooks    map[int]func()
	nextHook int
}

// Open connects to the cache database and runs auto-migrations. SQLite DSNs
// (":memory:", "file:…", "*.db") select the embedded store used for the
// offline cache and tests; anything else is treated as Postgres.
func Open(dsn string) (*EntityStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dialector gorm.Dialector
	if isSQLiteDSN(dsn) {
		dialector = sqlite.Open(dsn)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &EntityStore{db: db, hooks: map[int]func(){}}, nil
}

func isSQLiteDSN(dsn string) bool {
	return dsn == ":memory:" ||
		strings.HasPrefix(dsn, "file:") ||
		strings.HasSuffix(dsn, ".db") ||
		strings.HasSuffix(dsn, ".sqlite")
}

// DB exposes the read side.
func (s *EntityStore) DB() *gorm.DB { return s.db }

// Write runs fn inside a transaction in the serialized write region and, on
// commit, fires registered commit hooks synchronously before returning.
func (s *EntityStore) Write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Transaction(fn); err != nil {
		return err
	}
	s.notify()
	return nil
}

// OnCommit registers a hook called after every committed write. The returned
// function removes the hook.
func (s *EntityStore) OnCommit(fn func()) func() {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	id := s.nextHook
	s.nextHook++
	s.hooks[id] = fn
	return func() {
		s.hookMu.Lock()
		defer s.hookMu.Unlock()
		delete(s.hooks, id)
	}
}

func (s *EntityStore) notify() {
	s.hookMu.Lock()
	hooks := make([]func(), 0, len(s.hooks))
	for _, fn := range s.hooks {
		hooks = append(hooks, fn)
	}
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func upsert[M any](tx *gorm.DB, model M) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// Upsert helpers. All are fetch-existing-or-insert-new with field overwrite,
// keyed on the server-assigned ID, so re-writing the same payload is
// idempotent.

func UpsertCourseTx(tx *gorm.DB, c domain.Course) error {
	return upsert(tx, courseToModel(c))
}

func UpsertGroupTx(tx *gorm.DB, g domain.Group) error {
	return upsert(tx, groupToModel(g))
}

func UpsertTopicTx(tx *gorm.DB, t domain.DiscussionTopic) error {
	return upsert(tx, topicToModel(t))
}

func UpsertParticipantTx(tx *gorm.DB, p domain.DiscussionParticipant) error {
	return upsert(tx, participantToModel(p))
}

func UpsertEntryTx(tx *gorm.DB, e domain.DiscussionEntry) error {
	return upsert(tx, entryToModel(e))
}

func UpsertAssignmentTx(tx *gorm.DB, a domain.Assignment) error {
	return upsert(tx, assignmentToModel(a))
}

func UpsertSubmissionTx(tx *gorm.DB, sub domain.Submission) error {
	return upsert(tx, submissionToModel(sub))
}

func UpsertUploadTx(tx *gorm.DB, f domain.FileUpload) error {
	f.UpdatedAt = time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = f.UpdatedAt
	}
	return upsert(tx, uploadToModel(f))
}

func find[M any](tx *gorm.DB, id string) (M, bool, error) {
	var model M
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model, false, nil
		}
		return model, false, err
	}
	return model, true, nil
}

func FindCourseTx(tx *gorm.DB, id string) (domain.Course, bool, error) {
	m, ok, err := find[CourseModel](tx, id)
	return courseFromModel(m), ok, err
}

func FindTopicTx(tx *gorm.DB, id string) (domain.DiscussionTopic, bool, error) {
	m, ok, err := find[DiscussionTopicModel](tx, id)
	return topicFromModel(m), ok, err
}

func FindEntryTx(tx *gorm.DB, id string) (domain.DiscussionEntry, bool, error) {
	m, ok, err := find[DiscussionEntryModel](tx, id)
	return entryFromModel(m), ok, err
}

func FindParticipantTx(tx *gorm.DB, id string) (domain.DiscussionParticipant, bool, error) {
	m, ok, err := find[DiscussionParticipantModel](tx, id)
	return participantFromModel(m), ok, err
}

func FindAssignmentTx(tx *gorm.DB, id string) (domain.Assignment, bool, error) {
	m, ok, err := find[AssignmentModel](tx, id)
	return assignmentFromModel(m), ok, err
}

func FindUploadTx(tx *gorm.DB, id string) (domain.FileUpload, bool, error) {
	m, ok, err := find[FileUploadModel](tx, id)
	return uploadFromModel(m), ok, err
}

// FindUploadByTaskTx resolves a live or persisted task identifier back to its
// row; this is how late background-transfer callbacks are matched after a
// process restart.
func FindUploadByTaskTx(tx *gorm.DB, taskID int64) (domain.FileUpload, bool, error) {
	var m FileUploadModel
	if err := tx.First(&m, "task_id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FileUpload{}, false, nil
		}
		return domain.FileUpload{}, false, err
	}
	return uploadFromModel(m), true, nil
}

func list[M any](tx *gorm.DB, scope Scope) ([]M, error) {
	var models []M
	if err := scope.Apply(tx).Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}

func ListTopicsTx(tx *gorm.DB, scope Scope) ([]domain.DiscussionTopic, error) {
	models, err := list[DiscussionTopicModel](tx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DiscussionTopic, 0, len(models))
	for _, m := range models {
		out = append(out, topicFromModel(m))
	}
	return out, nil
}

func ListEntriesTx(tx *gorm.DB, scope Scope) ([]domain.DiscussionEntry, error) {
	models, err := list[DiscussionEntryModel](tx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DiscussionEntry, 0, len(models))
	for _, m := range models {
		out = append(out, entryFromModel(m))
	}
	return out, nil
}

func ListGroupsTx(tx *gorm.DB, scope Scope) ([]domain.Group, error) {
	models, err := list[GroupModel](tx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Group, 0, len(models))
	for _, m := range models {
		out = append(out, groupFromModel(m))
	}
	return out, nil
}

func ListSubmissionsTx(tx *gorm.DB, scope Scope) ([]domain.Submission, error) {
	models, err := list[SubmissionModel](tx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Submission, 0, len(models))
	for _, m := range models {
		out = append(out, submissionFromModel(m))
	}
	return out, nil
}

func ListUploadsTx(tx *gorm.DB, scope Scope) ([]domain.FileUpload, error) {
	models, err := list[FileUploadModel](tx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FileUpload, 0, len(models))
	for _, m := range models {
		out = append(out, uploadFromModel(m))
	}
	return out, nil
}

// DeleteTopicsTx removes exactly the rows matching scope. Entries referencing
// the topic are left behind on purpose: they are scoped by topic ID string,
// not a hard foreign key, and staleness there is acceptable.
func DeleteTopicsTx(tx *gorm.DB, scope Scope) error {
	return scope.Apply(tx).Delete(&DiscussionTopicModel{}).Error
}

func DeleteEntriesTx(tx *gorm.DB, scope Scope) error {
	return scope.Apply(tx).Delete(&DiscussionEntryModel{}).Error
}

func DeleteUploadsTx(tx *gorm.DB, scope Scope) error {
	return scope.Apply(tx).Delete(&FileUploadModel{}).Error
}

// PruneGroupsTx deletes every cached group not present in keep. The group
// list endpoint is source-of-truth, so an empty response clears the table.
func PruneGroupsTx(tx *gorm.DB, keep []string) error {
	if len(keep) == 0 {
		return tx.Where("1 = 1").Delete(&GroupModel{}).Error
	}
	return tx.Where("id NOT IN ?", keep).Delete(&GroupModel{}).Error
}

func CountEntriesTx(tx *gorm.DB, scope Scope) (int, error) {
	var count int64
	q := tx.Model(&DiscussionEntryModel{})
	for _, c := range scope.Conds {
		q = q.Where(fmt.Sprintf("%s %s ?", c.Col, c.Op), c.Val)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveUploadLegTx persists one leg's raw response body on the row.
func SaveUploadLegTx(tx *gorm.DB, id string, step domain.UploadStep, raw []byte) error {
	col := ""
	switch step {
	case domain.StepTarget:
		col = "target_data"
	case domain.StepUpload:
		col = "upload_data"
	case domain.StepSubmit:
		col = "submit_data"
	default:
		return fmt.Errorf("store: unknown upload step %q", step)
	}
	return tx.Model(&FileUploadModel{}).Where("id = ?", id).
		Update(col, raw).Error
}

// UploadLegTx reads back a persisted leg response.
func UploadLegTx(tx *gorm.DB, id string, step domain.UploadStep) ([]byte, error) {
	var m FileUploadModel
	if err := tx.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	switch step {
	case domain.StepTarget:
		return m.TargetData, nil
	case domain.StepUpload:
		return m.UploadData, nil
	case domain.StepSubmit:
		return m.SubmitData, nil
	}
	return nil, fmt.Errorf("store: unknown upload step %q", step)
}

// Read-side convenience wrappers.

func (s *EntityStore) FindTopic(id string) (domain.DiscussionTopic, bool, error) {
	return FindTopicTx(s.db, id)
}

func (s *EntityStore) FindEntry(id string) (domain.DiscussionEntry, bool, error) {
	return FindEntryTx(s.db, id)
}

func (s *EntityStore) FindUpload(id string) (domain.FileUpload, bool, error) {
	return FindUploadTx(s.db, id)
}

func (s *EntityStore) ListTopics(scope Scope) ([]domain.DiscussionTopic, error) {
	return ListTopicsTx(s.db, scope)
}

func (s *EntityStore) ListEntries(scope Scope) ([]domain.DiscussionEntry, error) {
	return ListEntriesTx(s.db, scope)
}

func (s *EntityStore) ListUploads(scope Scope) ([]domain.FileUpload, error) {
	return ListUploadsTx(s.db, scope)
}

func (s *EntityStore) ListGroups(scope Scope) ([]domain.Group, error) {
	return ListGroupsTx(s.db, scope)
}
