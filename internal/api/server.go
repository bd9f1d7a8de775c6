package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scriptflow/scriptflow/internal/executor"
	"github.com/scriptflow/scriptflow/internal/schedule"
	"github.com/scriptflow/scriptflow/internal/store"
	"github.com/scriptflow/scriptflow/internal/validate"
	"github.com/scriptflow/scriptflow/internal/version"
)

// Server exposes validation, execution, and workflow management over HTTP.
type Server struct {
	validator *validate.Validator
	exec      *executor.Executor
	workflows *store.WorkflowStore
	evaluator *schedule.Evaluator
	timeout   time.Duration
}

// New wires a server. workflows and evaluator may be nil; the workflow
// routes return 503 when no store is attached.
func New(v *validate.Validator, exec *executor.Executor, workflows *store.WorkflowStore, ev *schedule.Evaluator, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = executor.DefaultTimeout
	}
	return &Server{
		validator: v,
		exec:      exec,
		workflows: workflows,
		evaluator: ev,
		timeout:   timeout,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/validate/extract", s.handleExtract)
		r.Post("/execute", s.handleExecute)
		r.Get("/execute/stream", s.handleStream)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleWorkflowList)
			r.Post("/", s.handleWorkflowCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleWorkflowGet)
				r.Put("/", s.handleWorkflowUpdate)
				r.Delete("/", s.handleWorkflowDelete)
				r.Get("/executions", s.handleWorkflowExecutions)
				r.Post("/run", s.handleWorkflowRun)
			})
		})
	})

	return r
}

type validateRequest struct {
	Code string `json:"code"`
}

type executeRequest struct {
	Code        string            `json:"code"`
	Payload     map[string]any    `json:"payload"`
	TimeoutMs   int               `json:"timeoutMs"`
	UserID      string            `json:"userId"`
	Credentials map[string]string `json:"credentials"` // var name -> credential id
}

// options converts the wire request into executor options, applying the
// server default timeout when the caller gave none.
func (s *Server) options(req *executeRequest) executor.Options {
	opts := executor.Options{
		UserID:      req.UserID,
		Credentials: req.Credentials,
		Timeout:     s.timeout,
	}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	return opts
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Get().Version,
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.validator.Validate(req.Code)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// extractResponse mirrors what script editors consume when rendering
// credential bubbles above a workflow.
type extractResponse struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors"`
	BubbleParameters any      `json:"bubbleParameters"`
	InputSchema      any      `json:"inputSchema"`
	EventType        string   `json:"eventType"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.validator.Validate(req.Code)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{
		Valid:            res.Valid,
		Errors:           res.Errors,
		BubbleParameters: res.Invocations,
		InputSchema:      res.InputShape,
		EventType:        res.EventType,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res := s.exec.Execute(r.Context(), req.Code, req.Payload, s.options(&req))
	writeJSON(w, http.StatusOK, res)
}

type workflowRequest struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleWorkflowCreate(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		httpError(w, http.StatusServiceUnavailable, "no workflow store configured")
		return
	}
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.validator.Validate(req.Source)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	wf := &store.Workflow{
		Name:        req.Name,
		Source:      req.Source,
		TriggerType: res.EventType,
		Cron:        res.Cron,
		Enabled:     req.Enabled,
	}
	if err := s.workflows.Create(r.Context(), wf); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.syncSchedule(wf)
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleWorkflowGet(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		httpError(w, http.StatusServiceUnavailable, "no workflow store configured")
		return
	}
	wf, err := s.workflows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleWorkflowUpdate replaces the workflow wholesale. There is no partial
// update; callers send the full definition every time.
func (s *Server) handleWorkflowUpdate(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		httpError(w, http.StatusServiceUnavailable, "no workflow store configured")
		return
	}
	id := chi.URLParam(r, "id")
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.validator.Validate(req.Source)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	existing, err := s.workflows.Get(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	wf := &store.Workflow{
		ID:          id,
		Name:        req.Name,
		Source:      req.Source,
		TriggerType: res.EventType,
		Cron:        res.Cron,
		Enabled:     req.Enabled,
		CreatedAt:   existing.CreatedAt,
	}
	if err := s.workflows.Update(r.Context(), wf); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.syncSchedule(wf)
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		httpError(w, http.StatusServiceUnavailable, "no workflow store configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.workflows.Delete(r.Context(), id); err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	if s.evaluator != nil {
		s.evaluator.Remove(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		httpError(w, http.StatusServiceUnavailable, "no workflow store configured")
		return
	}
	list, err := s.workflows.List(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*store.Workflow{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWorkflowExecutions(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		httpError(w, http.StatusServiceUnavailable, "no workflow store configured")
		return
	}
	recs, err := s.workflows.Executions(r.Context(), chi.URLParam(r, "id"), 0)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*store.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleWorkflowRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.exec.RunScheduled(r.Context(), id); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "workflowId": id})
}

func (s *Server) syncSchedule(wf *store.Workflow) {
	if s.evaluator == nil {
		return
	}
	if wf.Enabled && wf.Cron != "" {
		if err := s.evaluator.Upsert(wf.ID, wf.Cron); err != nil {
			log.Printf("api: scheduling workflow %s: %v", wf.ID, err)
		}
		return
	}
	s.evaluator.Remove(wf.ID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encoding response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
