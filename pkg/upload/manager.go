// Package upload moves queued files through the three-leg submission
// protocol: request an upload target, POST the bytes to it, and submit the
// resulting file IDs to the assignment once every file of the batch is up.
// Every transition is committed to the entity store before the work that
// depends on it starts, so a crashed or restarted process resumes from rows
// alone.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"coursecache/pkg/api"
	"coursecache/pkg/domain"
	"coursecache/pkg/events"
	"coursecache/pkg/storage"
	"coursecache/pkg/store"
)

// TokenSource resolves a user's API token during background recovery, when
// the only context available is the durable session identifier.
type TokenSource func(userID string) (string, error)

// Config carries the collaborators the manager cannot default.
type Config struct {
	Session Session
	Client  *api.Client
	// Tokens is consulted when a background callback arrives for a session
	// other than the live one.
	Tokens TokenSource
	// Transfer is the HTTP client for leg two; the signed target may live on
	// a different host than the API, so the authenticated client is not used.
	Transfer *http.Client
}

// Manager is the upload state machine. All state mutations flow as typed
// messages through a single consumer goroutine, so transitions are serialized
// without locks and progress callbacks can never race a terminal state.
type Manager struct {
	entities *store.EntityStore
	objects  storage.ObjectStore
	bus      events.Bus
	log      *slog.Logger
	cfg      Config

	msgs     chan message
	cancels  map[int64]context.CancelFunc
	nextTask atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

func WithBus(b events.Bus) Option      { return func(m *Manager) { m.bus = b } }
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

func NewManager(entities *store.EntityStore, objects storage.ObjectStore, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		entities: entities,
		objects:  objects,
		log:      slog.Default(),
		cfg:      cfg,
		msgs:     make(chan message, 256),
		cancels:  map[int64]context.CancelFunc{},
	}
	if m.cfg.Transfer == nil {
		m.cfg.Transfer = &http.Client{Timeout: 10 * time.Minute}
	}
	m.nextTask.Store(time.Now().UnixNano())
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// message is one unit of work for the consumer loop.
type message interface{ isMessage() }

type startMsg struct {
	fileID string
	done   chan error
}

type targetResolved struct {
	fileID string
	target api.FileUploadTarget
	raw    []byte
	err    error
}

type progressMsg struct {
	taskID int64
	sent   int64
}

type taskDone struct {
	session Session
	taskID  int64
	body    []byte
	err     error
}

type submitDone struct {
	batchID      string
	courseID     string
	assignmentID string
	resp         api.APISubmission
	raw          []byte
	err          error
}

type cancelMsg struct {
	fileID string
	done   chan error
}

func (startMsg) isMessage()       {}
func (targetResolved) isMessage() {}
func (progressMsg) isMessage()    {}
func (taskDone) isMessage()       {}
func (submitDone) isMessage()     {}
func (cancelMsg) isMessage()      {}

// Run consumes messages until ctx is done. Exactly one Run per manager.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.msgs:
			m.handle(ctx, msg)
		}
	}
}

func (m *Manager) send(ctx context.Context, msg message) {
	select {
	case m.msgs <- msg:
	case <-ctx.Done():
	}
}

// AddRequest queues one local file for upload. CourseID and AssignmentID are
// set for submission uploads and empty for plain user files.
type AddRequest struct {
	UserID       string
	CourseID     string
	AssignmentID string
	Comment      string
	BatchID      string
	LocalPath    string
	Filename     string
	ContentType  string
}

// Add stages the file's bytes and persists the row in the staged state. The
// original path is not needed afterwards. Submission uploads require the
// assignment to be cached already.
func (m *Manager) Add(ctx context.Context, req AddRequest) (domain.FileUpload, error) {
	file := domain.FileUpload{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		BatchID:      req.BatchID,
		CourseID:     req.CourseID,
		AssignmentID: req.AssignmentID,
		Comment:      req.Comment,
		Filename:     req.Filename,
		LocalPath:    req.LocalPath,
		ContentType:  req.ContentType,
		State:        domain.UploadStaged,
	}
	if file.BatchID == "" {
		file.BatchID = uuid.NewString()
	}
	staged, err := stageFile(ctx, m.objects, req.LocalPath, req.ContentType)
	if err != nil {
		return domain.FileUpload{}, err
	}
	file.StagingKey = staged.Key
	file.ContentHash = staged.ContentHash
	file.Size = staged.Size
	file.PageCount = staged.PageCount
	err = m.entities.Write(ctx, func(tx *gorm.DB) error {
		if file.Submittable() {
			_, ok, err := store.FindAssignmentTx(tx, file.AssignmentID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("queue upload for assignment %s: %w", file.AssignmentID, store.ErrNotFound)
			}
		}
		return store.UpsertUploadTx(tx, file)
	})
	if err != nil {
		return domain.FileUpload{}, err
	}
	return file, nil
}

// Start drives the row from whatever persisted state it is in. It is the
// worker entrypoint and the recovery entrypoint; both see only the row.
func (m *Manager) Start(ctx context.Context, fileID string) error {
	done := make(chan error, 1)
	m.send(ctx, startMsg{fileID: fileID, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a live transfer, if any, and deletes the row.
func (m *Manager) Cancel(ctx context.Context, fileID string) error {
	done := make(chan error, 1)
	m.send(ctx, cancelMsg{fileID: fileID, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleBackgroundEvent feeds a late transfer callback into the machine. The
// session identifier alone authenticates and routes it; no in-memory state
// from before a restart is consulted.
func (m *Manager) HandleBackgroundEvent(ctx context.Context, sessionID string, taskID int64, body []byte, transferErr error) error {
	session, err := ParseSessionID(sessionID)
	if err != nil {
		return err
	}
	m.send(ctx, taskDone{session: session, taskID: taskID, body: body, err: transferErr})
	return nil
}

// Resume re-drives every non-terminal row after a restart.
func (m *Manager) Resume(ctx context.Context) error {
	pending, err := m.entities.ListUploads(store.Scope{
		Conds: []store.Cond{store.In(store.UploadState, []string{
			string(domain.UploadStaged),
			string(domain.UploadTargetRequested),
			string(domain.UploadUploading),
			string(domain.UploadUploaded),
		})},
	})
	if err != nil {
		return err
	}
	for _, file := range pending {
		if err := m.Start(ctx, file.ID); err != nil {
			m.log.Warn("resume upload failed", "file", file.ID, "error", err)
		}
	}
	return nil
}

func (m *Manager) handle(ctx context.Context, msg message) {
	switch msg := msg.(type) {
	case startMsg:
		msg.done <- m.handleStart(ctx, msg.fileID)
	case targetResolved:
		m.handleTargetResolved(ctx, msg)
	case progressMsg:
		m.handleProgress(ctx, msg)
	case taskDone:
		m.handleTaskDone(ctx, msg)
	case submitDone:
		m.handleSubmitDone(ctx, msg)
	case cancelMsg:
		msg.done <- m.handleCancel(ctx, msg.fileID)
	}
}

func (m *Manager) handleStart(ctx context.Context, fileID string) error {
	file, ok, err := m.entities.FindUpload(fileID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("start upload %s: %w", fileID, store.ErrNotFound)
	}
	switch file.State {
	case domain.UploadStaged:
		go m.requestTarget(ctx, file)
	case domain.UploadTargetRequested:
		// Target already persisted; jump straight to the transfer.
		return m.beginTransfer(ctx, file)
	case domain.UploadUploading:
		// The transfer died with the old process. The bytes are still staged,
		// so restart the leg under a fresh task.
		return m.beginTransfer(ctx, file)
	case domain.UploadUploaded:
		return m.maybeSubmit(ctx, file)
	}
	return nil
}

func (m *Manager) requestTarget(ctx context.Context, file domain.FileUpload) {
	apiCtx := api.UserSelfContext()
	if file.CourseID != "" {
		apiCtx = api.CourseContext(file.CourseID)
	}
	req := api.PostFileUploadTargetRequest(apiCtx, file.Filename, file.Size, "")
	target, _, err := api.Do[api.FileUploadTarget](ctx, m.cfg.Client, req)
	var raw []byte
	if err == nil {
		raw, _ = json.Marshal(target)
		if target.UploadURL == "" {
			err = fmt.Errorf("upload target missing upload_url")
		}
	}
	m.send(ctx, targetResolved{fileID: file.ID, target: target, raw: raw, err: err})
}

func (m *Manager) handleTargetResolved(ctx context.Context, msg targetResolved) {
	file, ok, err := m.entities.FindUpload(msg.fileID)
	if err != nil || !ok {
		return
	}
	if file.Terminal() {
		return
	}
	if msg.err != nil {
		m.fail(ctx, file, msg.err)
		return
	}
	file.State = domain.UploadTargetRequested
	file.Step = domain.StepTarget
	if err := m.entities.Write(ctx, func(tx *gorm.DB) error {
		if err := store.UpsertUploadTx(tx, file); err != nil {
			return err
		}
		return store.SaveUploadLegTx(tx, file.ID, domain.StepTarget, msg.raw)
	}); err != nil {
		m.fail(ctx, file, err)
		return
	}
	if err := m.beginTransfer(ctx, file); err != nil {
		m.fail(ctx, file, err)
	}
}

// beginTransfer commits the task identity first, then moves the bytes. The
// commit is what makes a crashed transfer recoverable: the callback carries
// taskID and sessionID, and both are already on the row.
func (m *Manager) beginTransfer(ctx context.Context, file domain.FileUpload) error {
	raw, err := m.readLeg(file.ID, domain.StepTarget)
	if err != nil {
		return err
	}
	var target api.FileUploadTarget
	if err := json.Unmarshal(raw, &target); err != nil {
		return fmt.Errorf("decode persisted target: %w", err)
	}
	taskID := m.nextTask.Add(1)
	file.TaskID = taskID
	file.SessionID = m.cfg.Session.ID()
	file.Step = domain.StepUpload
	file.State = domain.UploadUploading
	file.BytesSent = 0
	if err := m.entities.Write(ctx, func(tx *gorm.DB) error {
		return store.UpsertUploadTx(tx, file)
	}); err != nil {
		return err
	}
	tctx, cancel := context.WithCancel(context.Background())
	m.cancels[taskID] = cancel
	go m.transfer(tctx, file, target, taskID)
	return nil
}

func (m *Manager) transfer(ctx context.Context, file domain.FileUpload, target api.FileUploadTarget, taskID int64) {
	body, err := m.objects.Get(ctx, file.StagingKey)
	if err != nil {
		m.send(ctx, taskDone{session: m.cfg.Session, taskID: taskID, err: err})
		return
	}
	defer body.Close()
	counted := &countingReader{r: body, onProgress: func(sent int64) {
		select {
		case m.msgs <- progressMsg{taskID: taskID, sent: sent}:
		default:
			// Progress is advisory; never block the transfer on it.
		}
	}}
	req, err := api.NewUploadRequest(ctx, target, file.Filename, counted)
	if err != nil {
		m.send(context.Background(), taskDone{session: m.cfg.Session, taskID: taskID, err: err})
		return
	}
	resp, err := m.cfg.Transfer.Do(req)
	if err != nil {
		m.send(context.Background(), taskDone{session: m.cfg.Session, taskID: taskID, err: err})
		return
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= 400 {
		err = &api.Error{Status: resp.StatusCode, Message: string(raw)}
	}
	m.send(context.Background(), taskDone{session: m.cfg.Session, taskID: taskID, body: raw, err: err})
}

func (m *Manager) handleProgress(ctx context.Context, msg progressMsg) {
	file, ok, err := m.findByTask(msg.taskID)
	if err != nil || !ok {
		return
	}
	if file.Terminal() {
		// Late callback from a transfer that already resolved; frozen.
		return
	}
	file.BytesSent = msg.sent
	_ = m.entities.Write(ctx, func(tx *gorm.DB) error {
		return store.UpsertUploadTx(tx, file)
	})
}

func (m *Manager) handleTaskDone(ctx context.Context, msg taskDone) {
	if cancel, ok := m.cancels[msg.taskID]; ok {
		cancel()
		delete(m.cancels, msg.taskID)
	}
	file, ok, err := m.findByTask(msg.taskID)
	if err != nil || !ok {
		m.log.Warn("task callback for unknown upload", "task", msg.taskID)
		return
	}
	if file.Terminal() {
		return
	}
	if msg.err != nil {
		m.fail(ctx, file, msg.err)
		return
	}
	var remote api.APIFile
	if err := json.Unmarshal(msg.body, &remote); err != nil || remote.ID == "" {
		m.fail(ctx, file, fmt.Errorf("decode upload response: invalid file body"))
		return
	}
	file.State = domain.UploadUploaded
	file.RemoteFileID = remote.ID.String()
	file.BytesSent = file.Size
	// The transfer is over: drop the transient task identity so a duplicate
	// callback or straggling progress message for this task no longer
	// matches the row. The durable session id stays.
	file.TaskID = 0
	if err := m.entities.Write(ctx, func(tx *gorm.DB) error {
		if err := store.UpsertUploadTx(tx, file); err != nil {
			return err
		}
		return store.SaveUploadLegTx(tx, file.ID, domain.StepUpload, msg.body)
	}); err != nil {
		m.fail(ctx, file, err)
		return
	}
	if !file.Submittable() {
		m.complete(ctx, []domain.FileUpload{file}, nil)
		return
	}
	if err := m.maybeSubmitAs(ctx, file, msg.session); err != nil {
		m.fail(ctx, file, err)
	}
}

func (m *Manager) maybeSubmit(ctx context.Context, file domain.FileUpload) error {
	return m.maybeSubmitAs(ctx, file, m.cfg.Session)
}

// maybeSubmitAs fires leg three once every file of the batch is uploaded.
// Until then the just-uploaded file simply waits in the uploaded state.
func (m *Manager) maybeSubmitAs(ctx context.Context, file domain.FileUpload, session Session) error {
	if !file.Submittable() {
		return nil
	}
	batch, err := m.entities.ListUploads(store.Where(store.UploadBatchID, file.BatchID))
	if err != nil {
		return err
	}
	fileIDs := make([]string, 0, len(batch))
	for _, member := range batch {
		if member.State != domain.UploadUploaded {
			return nil
		}
		fileIDs = append(fileIDs, member.RemoteFileID)
	}
	client, err := m.clientFor(session)
	if err != nil {
		return err
	}
	go m.submit(ctx, client, file, fileIDs)
	return nil
}

func (m *Manager) submit(ctx context.Context, client *api.Client, file domain.FileUpload, fileIDs []string) {
	req := api.CreateSubmissionRequest(file.CourseID, file.AssignmentID, api.CreateSubmissionBody{
		Submission: api.CreateSubmissionFields{
			SubmissionType: string(domain.SubmissionOnlineUpload),
			TextComment:    file.Comment,
			FileIDs:        fileIDs,
		},
	})
	resp, _, err := api.Do[api.APISubmission](ctx, client, req)
	var raw []byte
	if err == nil {
		raw, _ = json.Marshal(resp)
	}
	m.send(context.Background(), submitDone{
		batchID:      file.BatchID,
		courseID:     file.CourseID,
		assignmentID: file.AssignmentID,
		resp:         resp,
		raw:          raw,
		err:          err,
	})
}

func (m *Manager) handleSubmitDone(ctx context.Context, msg submitDone) {
	batch, err := m.entities.ListUploads(store.Where(store.UploadBatchID, msg.batchID))
	if err != nil {
		return
	}
	if msg.err != nil {
		// One row carries the error and raises the notification; the rest of
		// the batch stays uploaded. A half-uploaded batch never resubmits on
		// its own because maybeSubmitAs requires every member uploaded.
		if len(batch) > 0 {
			m.fail(ctx, batch[0], msg.err)
		}
		return
	}
	m.complete(ctx, batch, &msg)
}

func (m *Manager) complete(ctx context.Context, batch []domain.FileUpload, sub *submitDone) {
	err := m.entities.Write(ctx, func(tx *gorm.DB) error {
		for _, file := range batch {
			file.State = domain.UploadCompleted
			file.Step = domain.StepSubmit
			if err := store.UpsertUploadTx(tx, file); err != nil {
				return err
			}
			if sub != nil {
				if err := store.SaveUploadLegTx(tx, file.ID, domain.StepSubmit, sub.raw); err != nil {
					return err
				}
			}
		}
		if sub != nil && sub.resp.ID != "" {
			return store.UpsertSubmissionTx(tx, domain.Submission{
				ID:           sub.resp.ID.String(),
				AssignmentID: sub.assignmentID,
				UserID:       sub.resp.UserID.String(),
				Attempt:      intDeref(sub.resp.Attempt),
				Type:         string(domain.SubmissionOnlineUpload),
				SubmittedAt:  timeDeref(sub.resp.SubmittedAt),
			})
		}
		return nil
	})
	if err != nil {
		m.log.Warn("completing upload batch failed", "error", err)
		return
	}
	if sub != nil {
		m.publish(ctx, events.Event{
			ID:           events.SubmissionEventID(events.SubmissionCompleted, sub.courseID, sub.assignmentID),
			Name:         events.SubmissionCompleted,
			CourseID:     sub.courseID,
			AssignmentID: sub.assignmentID,
		})
	}
}

func (m *Manager) handleCancel(ctx context.Context, fileID string) error {
	file, ok, err := m.entities.FindUpload(fileID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cancel upload %s: %w", fileID, store.ErrNotFound)
	}
	if cancel, ok := m.cancels[file.TaskID]; ok {
		cancel()
		delete(m.cancels, file.TaskID)
	}
	return m.entities.Write(ctx, func(tx *gorm.DB) error {
		return store.DeleteUploadsTx(tx, store.Where(store.UploadID, fileID))
	})
}

// fail parks the row in the failed state with the cause and raises the
// user-facing notification. Repeat failures for the same assignment share a
// dedup ID, so they overwrite instead of stacking.
func (m *Manager) fail(ctx context.Context, file domain.FileUpload, cause error) {
	file.State = domain.UploadFailed
	file.ErrorMessage = cause.Error()
	if err := m.entities.Write(ctx, func(tx *gorm.DB) error {
		return store.UpsertUploadTx(tx, file)
	}); err != nil {
		m.log.Error("persisting upload failure", "file", file.ID, "error", err)
	}
	m.log.Warn("upload failed", "file", file.ID, "step", file.Step, "error", cause)
	if file.Submittable() {
		m.publish(ctx, events.Event{
			ID:           events.SubmissionEventID(events.SubmissionFailed, file.CourseID, file.AssignmentID),
			Name:         events.SubmissionFailed,
			CourseID:     file.CourseID,
			AssignmentID: file.AssignmentID,
			Fields:       map[string]string{"error": cause.Error()},
		})
	}
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.log.Warn("event publish failed", "event", ev.Name, "error", err)
	}
}

func (m *Manager) clientFor(session Session) (*api.Client, error) {
	if session == m.cfg.Session && m.cfg.Client != nil {
		return m.cfg.Client, nil
	}
	if m.cfg.Tokens == nil {
		return nil, fmt.Errorf("upload: no token source for session user %s", session.UserID)
	}
	token, err := m.cfg.Tokens(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("upload: resolve token: %w", err)
	}
	var opts []api.Option
	if session.ActAsUserID != "" {
		opts = append(opts, api.WithActAsUser(session.ActAsUserID))
	}
	return api.NewClient(session.BaseURL, token, opts...), nil
}

func (m *Manager) findByTask(taskID int64) (domain.FileUpload, bool, error) {
	return store.FindUploadByTaskTx(m.entities.DB(), taskID)
}

func (m *Manager) readLeg(fileID string, step domain.UploadStep) ([]byte, error) {
	return store.UploadLegTx(m.entities.DB(), fileID, step)
}

// countingReader reports cumulative bytes read in coarse increments.
type countingReader struct {
	r          io.Reader
	total      int64
	lastReport int64
	onProgress func(sent int64)
}

const progressChunk = 256 << 10

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)
	if c.onProgress != nil && (c.total-c.lastReport >= progressChunk || err == io.EOF) {
		c.lastReport = c.total
		c.onProgress(c.total)
	}
	return n, err
}

func intDeref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func timeDeref(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
