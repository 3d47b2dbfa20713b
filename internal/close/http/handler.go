package closehttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/close"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type closeService interface {
	InitiateClose(ctx context.Context, in close.InitiateInput) (close.Close, error)
	CompleteTask(ctx context.Context, closeID int64, code, actorID, comment string) (close.Task, error)
	AddValidationIssue(ctx context.Context, closeID int64, in close.IssueInput) (close.ValidationIssue, error)
	ResolveValidationIssue(ctx context.Context, closeID, issueID int64, resolution, actorID string) (close.ValidationIssue, error)
	CompleteClose(ctx context.Context, closeID int64, actorID string) (close.Close, error)
	Reopen(ctx context.Context, closeID int64, reason, actorID string) (close.Close, error)
	GetCloseStatus(ctx context.Context, closeID int64) (close.CloseStatus, error)
}

// Handler wires HTTP endpoints for fiscal period closes.
type Handler struct {
	logger  *slog.Logger
	service closeService
}

type closeView struct {
	ID                   int64       `json:"id"`
	Number               string      `json:"number"`
	PeriodID             int64       `json:"period_id"`
	PeriodName           string      `json:"period_name,omitempty"`
	Type                 string      `json:"type"`
	Status               badgeView   `json:"status"`
	Cycle                int         `json:"cycle"`
	InitiatedBy          string      `json:"initiated_by"`
	CompletedBy          string      `json:"completed_by,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
	ReopenReason         string      `json:"reopen_reason,omitempty"`
	TrialBalanceID       *int64      `json:"trial_balance_id,omitempty"`
	NetIncomeEntryID     *int64      `json:"net_income_entry_id,omitempty"`
	CompletionPercentage int         `json:"completion_percentage"`
	RemainingRequired    []string    `json:"remaining_required"`
	UnresolvedBlocking   int         `json:"unresolved_blocking"`
	Complete             actionState `json:"complete"`
	Tasks                []taskView  `json:"tasks"`
	Issues               []issueView `json:"issues"`
}

type taskView struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	Required    bool       `json:"required"`
	Complete    bool       `json:"complete"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

type issueView struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code,omitempty"`
	Description string    `json:"description"`
	Severity    badgeView `json:"severity"`
	System      bool      `json:"system"`
	Resolved    bool      `json:"resolved"`
	ResolvedBy  string    `json:"resolved_by,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
}

type badgeView struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

type actionState struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

type initiateRequest struct {
	PeriodID int64  `json:"period_id"`
	Type     string `json:"type"`
	Number   string `json:"number"`
	Notes    string `json:"notes"`
}

type issueRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// NewHandler constructs a close HTTP handler.
func NewHandler(logger *slog.Logger, service closeService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/close", func(r chi.Router) {
		r.Use(httpx.RequireActor)
		r.Post("/", h.initiate)
		r.Get("/{id}", h.show)
		r.Post("/{id}/tasks/{code}/complete", h.completeTask)
		r.Post("/{id}/issues", h.addIssue)
		r.Post("/{id}/issues/{issueID}/resolve", h.resolveIssue)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/reopen", h.reopen)
	})
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, "initiate close", err)
		return
	}
	c, err := h.service.InitiateClose(r.Context(), close.InitiateInput{
		PeriodID: req.PeriodID,
		Type:     close.CloseType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Number:   req.Number,
		ActorID:  currentActor(r),
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, "initiate close", err)
		return
	}
	h.respondStatus(w, r, c.ID, http.StatusCreated)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondStatus(w, r, id, http.StatusOK)
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			h.fail(w, "complete task", err)
			return
		}
	}
	task, err := h.service.CompleteTask(r.Context(), id, chi.URLParam(r, "code"), currentActor(r), req.Comment)
	if err != nil {
		h.fail(w, "complete task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTaskView(task, task.CompletedCycle))
}

func (h *Handler) addIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req issueRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, "add validation issue", err)
		return
	}
	issue, err := h.service.AddValidationIssue(r.Context(), id, close.IssueInput{
		Code:        req.Code,
		Description: req.Description,
		Severity:    close.Severity(strings.ToUpper(strings.TrimSpace(req.Severity))),
		ActorID:     currentActor(r),
	})
	if err != nil {
		h.fail(w, "add validation issue", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newIssueView(issue))
}

func (h *Handler) resolveIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	issueID, ok := h.pathID(w, r, "issueID")
	if !ok {
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, "resolve validation issue", err)
		return
	}
	issue, err := h.service.ResolveValidationIssue(r.Context(), id, issueID, req.Resolution, currentActor(r))
	if err != nil {
		h.fail(w, "resolve validation issue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newIssueView(issue))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.service.CompleteClose(r.Context(), id, currentActor(r)); err != nil {
		h.fail(w, "complete close", err)
		return
	}
	h.respondStatus(w, r, id, http.StatusOK)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, "reopen close", err)
		return
	}
	if _, err := h.service.Reopen(r.Context(), id, req.Reason, currentActor(r)); err != nil {
		h.fail(w, "reopen close", err)
		return
	}
	h.respondStatus(w, r, id, http.StatusOK)
}

func (h *Handler) respondStatus(w http.ResponseWriter, r *http.Request, id int64, status int) {
	cs, err := h.service.GetCloseStatus(r.Context(), id)
	if err != nil {
		h.fail(w, "get close status", err)
		return
	}
	httpx.JSON(w, status, newCloseView(cs))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, accounting.Invalidf("invalid %s %q", name, raw))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func currentActor(r *http.Request) string {
	return shared.ActorFromContext(r.Context())
}

func newCloseView(cs close.CloseStatus) closeView {
	c := cs.Close
	v := closeView{
		ID:                   c.ID,
		Number:               c.Number,
		PeriodID:             c.PeriodID,
		PeriodName:           cs.PeriodName,
		Type:                 string(c.Type),
		Status:               badgeForCloseStatus(c.Status),
		Cycle:                c.Cycle,
		InitiatedBy:          c.InitiatedBy,
		CompletedBy:          c.CompletedBy,
		CompletedAt:          c.CompletedAt,
		ReopenReason:         c.ReopenReason,
		TrialBalanceID:       c.TrialBalanceID,
		NetIncomeEntryID:     c.NetIncomeEntryID,
		CompletionPercentage: cs.CompletionPercentage,
		RemainingRequired:    cs.RemainingRequired,
		UnresolvedBlocking:   cs.UnresolvedBlocking,
		Complete:             completeState(cs),
		Tasks:                make([]taskView, 0, len(c.Tasks)),
		Issues:               make([]issueView, 0, len(c.Issues)),
	}
	if v.RemainingRequired == nil {
		v.RemainingRequired = []string{}
	}
	for _, task := range c.Tasks {
		v.Tasks = append(v.Tasks, newTaskView(task, c.Cycle))
	}
	for _, issue := range c.Issues {
		if issue.Cycle == c.Cycle {
			v.Issues = append(v.Issues, newIssueView(issue))
		}
	}
	return v
}

func newTaskView(task close.Task, cycle int) taskView {
	v := taskView{
		Code:     task.Code,
		Name:     task.Name,
		Kind:     string(task.Kind),
		Required: task.Required,
		Complete: task.CompleteIn(cycle),
	}
	if v.Complete {
		v.CompletedBy, v.CompletedAt, v.Comment = task.CompletedBy, task.CompletedAt, task.Comment
	}
	return v
}

func newIssueView(issue close.ValidationIssue) issueView {
	return issueView{
		ID:          issue.ID,
		Code:        issue.Code,
		Description: issue.Description,
		Severity:    badgeForSeverity(issue.Severity),
		System:      issue.System,
		Resolved:    issue.Resolved,
		ResolvedBy:  issue.ResolvedBy,
		Resolution:  issue.Resolution,
	}
}

func badgeForCloseStatus(status close.Status) badgeView {
	kind := "secondary"
	switch status {
	case close.StatusInProgress:
		kind = "warning"
	case close.StatusComplete:
		kind = "success"
	case close.StatusReopened:
		kind = "danger"
	}
	return badgeView{Value: string(status), Label: shared.StatusLabel(status), Kind: kind}
}

func badgeForSeverity(severity close.Severity) badgeView {
	kind := "info"
	switch severity {
	case close.SeverityWarning:
		kind = "warning"
	case close.SeverityBlocking:
		kind = "danger"
	}
	return badgeView{Value: string(severity), Label: shared.StatusLabel(severity), Kind: kind}
}

// completeState predicts whether CompleteClose can pass its checklist and
// issue gates. System checks are re-evaluated on the attempt itself.
func completeState(cs close.CloseStatus) actionState {
	if cs.Close.Status != close.StatusInProgress {
		return actionState{Message: "Close is " + strings.ToLower(shared.StatusLabel(cs.Close.Status))}
	}
	var external []string
	for _, task := range cs.Close.Tasks {
		if task.Kind == close.TaskKindExternal && task.Required && !task.CompleteIn(cs.Close.Cycle) {
			external = append(external, task.Code)
		}
	}
	if len(external) > 0 {
		return actionState{Message: "Waiting on " + strings.Join(external, ", ")}
	}
	if cs.UnresolvedBlocking > 0 {
		return actionState{Message: strconv.Itoa(cs.UnresolvedBlocking) + " blocking issues open"}
	}
	return actionState{Enabled: true}
}
