package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/dag"
	"github.com/vk/stagegrid/internal/orchestrator"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/scheduler"
)

type handlers struct {
	orch *orchestrator.Orchestrator
}

// SubmitRequest is the body of POST /v1/runs.
type SubmitRequest struct {
	DefinitionID string         `json:"definition_id" binding:"required"`
	Inputs       map[string]any `json:"inputs"`
	Trigger      config.Trigger `json:"trigger"`
}

// SubmitResponse is returned for an accepted run.
type SubmitResponse struct {
	RunID    string `json:"run_id"`
	GroupKey string `json:"group_key,omitempty"`
	Status   string `json:"status"`
}

// DefinitionSummary describes one submittable definition.
type DefinitionSummary struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Stages      []StageSummary `json:"stages"`
	Concurrency *GroupSummary  `json:"concurrency,omitempty"`
	MaxInFlight int            `json:"max_in_flight,omitempty"`
}

// StageSummary describes one stage of a definition.
type StageSummary struct {
	Name      string         `json:"name"`
	Kind      string         `json:"kind"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Condition string         `json:"condition,omitempty"`
	Timeout   string         `json:"timeout,omitempty"`
	Params    []ParamSummary `json:"params,omitempty"`
}

// ParamSummary describes one declared parameter.
type ParamSummary struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Allowed  []string `json:"allowed,omitempty"`
	Default  any      `json:"default,omitempty"`
}

// GroupSummary describes a definition's concurrency group.
type GroupSummary struct {
	CancelInProgress bool `json:"cancel_in_progress"`
}

func (h *handlers) submitRun(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, err := h.orch.Submit(c.Request.Context(), scheduler.Request{Inputs: req.Inputs, Trigger: req.Trigger}, req.DefinitionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SubmitResponse{
		RunID:    handle.RunID,
		GroupKey: handle.GroupKey,
		Status:   string(handle.Status),
	})
}

func (h *handlers) getRun(c *gin.Context) {
	status, err := h.orch.GetRunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handlers) cancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.orch.CancelRun(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	status, err := h.orch.GetRunStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handlers) getRecord(c *gin.Context) {
	rec, err := h.orch.GetRunRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) listRuns(c *gin.Context) {
	recs, err := h.orch.ListRuns(c.Request.Context(), c.Query("definition"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": recs})
}

func (h *handlers) listDefinitions(c *gin.Context) {
	defs := h.orch.ListDefinitions()
	out := make([]DefinitionSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, summarize(def))
	}
	c.JSON(http.StatusOK, gin.H{"definitions": out})
}

func summarize(def *config.Definition) DefinitionSummary {
	sum := DefinitionSummary{
		ID:          def.ID,
		Description: def.Description,
		MaxInFlight: def.MaxInFlight,
		Stages:      make([]StageSummary, 0, len(def.Stages)),
	}
	if def.Concurrency != nil {
		sum.Concurrency = &GroupSummary{CancelInProgress: def.Concurrency.CancelInProgress}
	}
	for _, s := range def.Stages {
		st := StageSummary{Name: s.Name, Kind: s.Kind, DependsOn: s.DependsOn}
		if s.Condition != nil {
			st.Condition = s.Condition.String()
		}
		if s.Timeout > 0 {
			st.Timeout = s.Timeout.Round(time.Millisecond).String()
		}
		for _, name := range sortedKeys(s.Params) {
			p := s.Params[name]
			ps := ParamSummary{Name: name, Type: string(p.Type), Required: p.Required, Allowed: p.Allowed}
			if p.Default != nil && !p.Sensitive {
				ps.Default = params.Plain(*p.Default)
			}
			st.Params = append(st.Params, ps)
		}
		sum.Stages = append(sum.Stages, st)
	}
	return sum
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dag.ErrInvalidGraph), errors.Is(err, params.ErrValidation):
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		ctxlog.FromContext(c.Request.Context()).Error("Request failed.", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func sortedKeys(m map[string]*config.Param) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
