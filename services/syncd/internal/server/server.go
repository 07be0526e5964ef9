package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"coursecache/internal/ratelimit"
	"coursecache/internal/servicetoken"
	"coursecache/internal/util"
	"coursecache/pkg/api"
	"coursecache/pkg/store"
	"coursecache/pkg/upload"
	"coursecache/services/syncd/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// TokenVerifier authenticates internal callers; nil disables auth (dev).
	TokenVerifier *servicetoken.Verifier
	// ForceLimiter rate-limits force refreshes per cache scope; nil disables.
	ForceLimiter *ratelimit.FixedWindowLimiter
	// TrustedProxies controls which peers may supply forwarded-for headers.
	TrustedProxies *util.TrustedProxies
}

// Server exposes the sync daemon's control API.
type Server struct {
	app      *app.App
	verifier *servicetoken.Verifier
	limiter  *ratelimit.FixedWindowLimiter
	trusted  *util.TrustedProxies
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		verifier: cfg.TokenVerifier,
		limiter:  cfg.ForceLimiter,
		trusted:  cfg.TrustedProxies,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("syncd", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/sync/discussions", s.withAuth(s.handleSyncDiscussions))
	s.mux.Handle("/sync/announcements", s.withAuth(s.handleSyncAnnouncements))
	s.mux.Handle("/sync/discussion-topic", s.withAuth(s.handleSyncDiscussionTopic))
	s.mux.Handle("/sync/discussion-view", s.withAuth(s.handleSyncDiscussionView))
	s.mux.Handle("/sync/groups", s.withAuth(s.handleSyncGroups))
	s.mux.Handle("/sync/course", s.withAuth(s.handleSyncCourse))
	s.mux.Handle("/sync/assignment", s.withAuth(s.handleSyncAssignment))
	s.mux.Handle("/sync/submissions", s.withAuth(s.handleSyncSubmissions))
	s.mux.Handle("/uploads", s.withAuth(s.handleUploads))
	s.mux.Handle("/uploads/", s.withAuth(s.handleUploadByID))
	s.mux.Handle("/uploads-background-events", s.withAuth(s.handleBackgroundEvent))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier != nil {
			token, ok := servicetoken.BearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, err := s.verifier.Verify(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	})
}

type syncRequest struct {
	ContextType  string `json:"contextType"`
	ContextID    string `json:"contextId"`
	TopicID      string `json:"topicId"`
	CourseID     string `json:"courseId"`
	AssignmentID string `json:"assignmentId"`
	Force        bool   `json:"force"`
}

func (s *Server) decodeSync(w http.ResponseWriter, r *http.Request) (syncRequest, bool) {
	var req syncRequest
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return req, false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

func (req syncRequest) apiContext() (api.Context, error) {
	switch req.ContextType {
	case "course":
		if req.ContextID == "" {
			return api.Context{}, errors.New("contextId required")
		}
		return api.CourseContext(req.ContextID), nil
	case "group":
		if req.ContextID == "" {
			return api.Context{}, errors.New("contextId required")
		}
		return api.GroupContext(req.ContextID), nil
	}
	return api.Context{}, fmt.Errorf("unknown contextType %q", req.ContextType)
}

// allowForce gates forced refreshes so a misbehaving caller cannot turn every
// request into a network round-trip. The window is keyed by caller and scope.
func (s *Server) allowForce(r *http.Request, req syncRequest, scope string) bool {
	if !req.Force || s.limiter == nil {
		return true
	}
	return s.limiter.Allow(util.ClientIP(r, s.trusted) + ":" + scope)
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request, needsContext bool, fn func(syncRequest, api.Context) error) {
	req, ok := s.decodeSync(w, r)
	if !ok {
		return
	}
	var apiCtx api.Context
	if needsContext {
		var err error
		apiCtx, err = req.apiContext()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !s.allowForce(r, req, apiCtx.Code()+":"+r.URL.Path) {
		writeError(w, http.StatusTooManyRequests, "force refresh rate limited")
		return
	}
	if err := fn(req, apiCtx); err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSyncDiscussions(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, true, func(req syncRequest, apiCtx api.Context) error {
		return s.app.Engine.RefreshDiscussionTopics(r.Context(), apiCtx, req.Force)
	})
}

func (s *Server) handleSyncAnnouncements(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, true, func(req syncRequest, apiCtx api.Context) error {
		return s.app.Engine.RefreshAnnouncements(r.Context(), apiCtx, req.Force)
	})
}

func (s *Server) handleSyncDiscussionTopic(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, true, func(req syncRequest, apiCtx api.Context) error {
		if req.TopicID == "" {
			return errors.New("topicId required")
		}
		return s.app.Engine.RefreshDiscussionTopic(r.Context(), apiCtx, req.TopicID, req.Force)
	})
}

func (s *Server) handleSyncDiscussionView(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, true, func(req syncRequest, apiCtx api.Context) error {
		if req.TopicID == "" {
			return errors.New("topicId required")
		}
		return s.app.Engine.RefreshDiscussionView(r.Context(), apiCtx, req.TopicID, req.Force)
	})
}

func (s *Server) handleSyncGroups(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, false, func(req syncRequest, _ api.Context) error {
		return s.app.Engine.RefreshGroups(r.Context(), req.Force)
	})
}

func (s *Server) handleSyncCourse(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, false, func(req syncRequest, _ api.Context) error {
		if req.CourseID == "" {
			return errors.New("courseId required")
		}
		return s.app.Engine.RefreshCourse(r.Context(), req.CourseID, req.Force)
	})
}

func (s *Server) handleSyncAssignment(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, false, func(req syncRequest, _ api.Context) error {
		if req.CourseID == "" || req.AssignmentID == "" {
			return errors.New("courseId and assignmentId required")
		}
		return s.app.Engine.RefreshAssignment(r.Context(), req.CourseID, req.AssignmentID, req.Force)
	})
}

func (s *Server) handleSyncSubmissions(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, false, func(req syncRequest, _ api.Context) error {
		if req.CourseID == "" || req.AssignmentID == "" {
			return errors.New("courseId and assignmentId required")
		}
		return s.app.Engine.RefreshSubmissions(r.Context(), req.CourseID, req.AssignmentID, req.Force)
	})
}

type uploadRequest struct {
	UserID       string `json:"userId"`
	CourseID     string `json:"courseId"`
	AssignmentID string `json:"assignmentId"`
	Comment      string `json:"comment"`
	BatchID      string `json:"batchId"`
	LocalPath    string `json:"localPath"`
	Filename     string `json:"filename"`
	ContentType  string `json:"contentType"`
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req uploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LocalPath == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "localPath and filename required")
		return
	}
	file, err := s.app.Uploads.Add(r.Context(), upload.AddRequest{
		UserID:       req.UserID,
		CourseID:     req.CourseID,
		AssignmentID: req.AssignmentID,
		Comment:      req.Comment,
		BatchID:      req.BatchID,
		LocalPath:    req.LocalPath,
		Filename:     req.Filename,
		ContentType:  req.ContentType,
	})
	if err != nil {
		writeSyncError(w, err)
		return
	}
	if s.app.Queue != nil {
		if _, err := s.app.Queue.Enqueue(r.Context(), file.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "enqueue upload: "+err.Error())
			return
		}
	} else if err := s.app.Uploads.Start(r.Context(), file.ID); err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *Server) handleUploadByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		file, ok, err := s.app.Store.FindUpload(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		writeJSON(w, http.StatusOK, file)
	case http.MethodDelete:
		if err := s.app.Uploads.Cancel(r.Context(), id); err != nil {
			writeSyncError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type backgroundEventRequest struct {
	SessionID string `json:"sessionId"`
	TaskID    int64  `json:"taskId"`
	// Body is the base64-encoded transfer response body, if any.
	Body  string `json:"body"`
	Error string `json:"error"`
}

// handleBackgroundEvent feeds a late transfer callback into the upload
// machine. It carries everything the machine needs; no session state from
// before a restart is required.
func (s *Server) handleBackgroundEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req backgroundEventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var body []byte
	if req.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body encoding")
			return
		}
		body = decoded
	}
	var transferErr error
	if req.Error != "" {
		transferErr = errors.New(req.Error)
	}
	if err := s.app.Uploads.HandleBackgroundEvent(r.Context(), req.SessionID, req.TaskID, body, transferErr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeSyncError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
