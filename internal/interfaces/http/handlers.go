package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/engine"
	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/registry"
	"github.com/garyjia/staffops-approval/internal/repository"
	"github.com/garyjia/staffops-approval/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	flows     *registry.Service
	processor *engine.Processor
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(flows *registry.Service, processor *engine.Processor, logger *zap.Logger) *Handlers {
	return &Handlers{
		flows:     flows,
		processor: processor,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// FlowStepRequest describes one step of a flow definition in API requests
type FlowStepRequest struct {
	StepOrder          int    `json:"step_order"`
	ApproverType       string `json:"approver_type"`
	ApproverRoleCode   string `json:"approver_role_code"`
	SpecificApproverID string `json:"specific_approver_id"`
	IsFinal            bool   `json:"is_final"`
	CanSkip            bool   `json:"can_skip"`
	AutoApproveHours   int    `json:"auto_approve_hours"`
	EscalationRoleCode string `json:"escalation_role_code"`
	EscalationHours    int    `json:"escalation_hours"`
	Instructions       string `json:"instructions"`
}

// FlowRequest describes a flow definition in API requests
type FlowRequest struct {
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	TargetType string            `json:"target_type"`
	Priority   int               `json:"priority"`
	IsActive   *bool             `json:"is_active"`
	Region     string            `json:"region"`
	Branch     string            `json:"branch"`
	Department string            `json:"department"`
	Position   string            `json:"position"`
	Steps      []FlowStepRequest `json:"steps"`
}

// FlowResponse represents a flow definition in API responses
type FlowResponse struct {
	ID         int64              `json:"id"`
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	TargetType string             `json:"target_type"`
	Priority   int                `json:"priority"`
	IsActive   bool               `json:"is_active"`
	Region     string             `json:"region,omitempty"`
	Branch     string             `json:"branch,omitempty"`
	Department string             `json:"department,omitempty"`
	Position   string             `json:"position,omitempty"`
	Steps      []FlowStepResponse `json:"steps"`
}

// FlowStepResponse represents one flow step in API responses
type FlowStepResponse struct {
	ID                 int64  `json:"id"`
	StepOrder          int    `json:"step_order"`
	ApproverType       string `json:"approver_type"`
	ApproverRoleCode   string `json:"approver_role_code,omitempty"`
	SpecificApproverID string `json:"specific_approver_id,omitempty"`
	IsFinal            bool   `json:"is_final"`
	CanSkip            bool   `json:"can_skip"`
	AutoApproveHours   int    `json:"auto_approve_hours,omitempty"`
	EscalationRoleCode string `json:"escalation_role_code,omitempty"`
	EscalationHours    int    `json:"escalation_hours,omitempty"`
	Instructions       string `json:"instructions,omitempty"`
}

// CreateInstanceRequest starts an approval for a target reference
type CreateInstanceRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Requester  struct {
		UserID     string `json:"user_id"`
		Region     string `json:"region"`
		Branch     string `json:"branch"`
		Department string `json:"department"`
		Position   string `json:"position"`
	} `json:"requester"`
	IsUrgent bool `json:"is_urgent"`
}

// SubmitActionRequest records one decision at a step
type SubmitActionRequest struct {
	StepOrder  int    `json:"step_order"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	Comment    string `json:"comment"`
	DelegateTo string `json:"delegate_to"`
}

// CancelInstanceRequest cancels a pending instance
type CancelInstanceRequest struct {
	ActorID string `json:"actor_id"`
	Comment string `json:"comment"`
}

// ReorderStepsRequest renumbers a flow's steps
type ReorderStepsRequest struct {
	StepIDs []int64 `json:"step_ids"`
}

// InstanceResponse represents an approval instance in API responses
type InstanceResponse struct {
	ID               int64   `json:"id"`
	Code             string  `json:"code"`
	TargetType       string  `json:"target_type"`
	TargetID         string  `json:"target_id"`
	FlowID           int64   `json:"flow_id"`
	RequesterUserID  string  `json:"requester_user_id"`
	Status           string  `json:"status"`
	CurrentStepOrder *int    `json:"current_step_order,omitempty"`
	IsUrgent         bool    `json:"is_urgent"`
	StepEnteredAt    string  `json:"step_entered_at"`
	CreatedAt        string  `json:"created_at"`
	ResolvedAt       *string `json:"resolved_at,omitempty"`
	FinalComment     string  `json:"final_comment,omitempty"`
}

// ActionResponse represents one history entry in API responses
type ActionResponse struct {
	ID         int64  `json:"id"`
	StepOrder  int    `json:"step_order"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	Comment    string `json:"comment,omitempty"`
	DelegateTo string `json:"delegate_to,omitempty"`
	ActedAt    string `json:"acted_at"`
}

// ListInstancesRequest represents query parameters for listing instances
type ListInstancesRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateFlow handles POST /api/flows
func (h *Handlers) CreateFlow(c *gin.Context) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid flow payload", err)
		return
	}

	flow := req.toModel()
	if err := h.flows.CreateFlow(c.Request.Context(), flow); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toFlowResponse(flow)})
}

// ListFlows handles GET /api/flows
func (h *Handlers) ListFlows(c *gin.Context) {
	flows, err := h.flows.ListFlows(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	responses := make([]FlowResponse, 0, len(flows))
	for _, flow := range flows {
		responses = append(responses, toFlowResponse(flow))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: responses})
}

// GetFlow handles GET /api/flows/:code
func (h *Handlers) GetFlow(c *gin.Context) {
	flow, err := h.flows.GetFlow(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toFlowResponse(flow)})
}

// UpdateFlow handles PUT /api/flows/:code
func (h *Handlers) UpdateFlow(c *gin.Context) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid flow payload", err)
		return
	}

	flow := req.toModel()
	flow.Code = c.Param("code")
	if err := h.flows.UpdateFlow(c.Request.Context(), flow); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toFlowResponse(flow)})
}

// DeleteFlow handles DELETE /api/flows/:code
func (h *Handlers) DeleteFlow(c *gin.Context) {
	if err := h.flows.DeleteFlow(c.Request.Context(), c.Param("code")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ReorderFlowSteps handles POST /api/flows/:code/reorder
func (h *Handlers) ReorderFlowSteps(c *gin.Context) {
	var req ReorderStepsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid reorder payload", err)
		return
	}

	if err := h.flows.ReorderSteps(c.Request.Context(), c.Param("code"), req.StepIDs); err != nil {
		h.respondError(c, err)
		return
	}

	flow, err := h.flows.GetFlow(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toFlowResponse(flow)})
}

// CreateInstance handles POST /api/instances
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid instance payload", err)
		return
	}
	if req.TargetType == "" || req.TargetID == "" || req.Requester.UserID == "" {
		h.badRequest(c, "target_type, target_id and requester.user_id are required", nil)
		return
	}

	requester := models.Requester{
		UserID: req.Requester.UserID,
		Scope: models.Scope{
			Region:     req.Requester.Region,
			Branch:     req.Requester.Branch,
			Department: req.Requester.Department,
			Position:   req.Requester.Position,
		},
	}

	instance, err := h.processor.CreateInstance(c.Request.Context(), req.TargetType, req.TargetID, requester, req.IsUrgent)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: toInstanceResponse(instance)})
}

// ListInstances handles GET /api/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	var (
		instances []*models.ApprovalInstance
		err       error
	)
	if c.Query("status") == "pending" {
		instances, err = h.processor.ListPending(c.Request.Context())
	} else {
		instances, err = h.processor.ListInstances(c.Request.Context(), req.Limit, req.Offset)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponses(instances)})
}

// ListBlockedInstances handles GET /api/instances/blocked
func (h *Handlers) ListBlockedInstances(c *gin.Context) {
	instances, err := h.processor.ListBlocked(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponses(instances)})
}

// GetInstance handles GET /api/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	instance, err := h.processor.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponse(instance)})
}

// GetInstanceByCode handles GET /api/instances/by-code/:code
func (h *Handlers) GetInstanceByCode(c *gin.Context) {
	instance, err := h.processor.GetInstanceByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponse(instance)})
}

// GetInstanceByTarget handles GET /api/targets/:type/:target_id/instance
func (h *Handlers) GetInstanceByTarget(c *gin.Context) {
	instance, err := h.processor.GetInstanceByTarget(c.Request.Context(), c.Param("type"), c.Param("target_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponse(instance)})
}

// GetInstanceHistory handles GET /api/instances/:id/history
func (h *Handlers) GetInstanceHistory(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	actions, err := h.processor.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	responses := make([]ActionResponse, 0, len(actions))
	for _, action := range actions {
		responses = append(responses, ActionResponse{
			ID:         action.ID,
			StepOrder:  action.StepOrder,
			ActorID:    action.ActorID,
			Action:     action.Action,
			Comment:    action.Comment,
			DelegateTo: action.DelegateTo,
			ActedAt:    action.ActedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: responses})
}

// GetInstanceApprovers handles GET /api/instances/:id/approvers
func (h *Handlers) GetInstanceApprovers(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	approvers, err := h.processor.CurrentApprovers(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if approvers == nil {
		approvers = []string{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: approvers})
}

// SubmitAction handles POST /api/instances/:id/actions
func (h *Handlers) SubmitAction(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	var req SubmitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid action payload", err)
		return
	}
	if req.ActorID == "" || req.Action == "" {
		h.badRequest(c, "actor_id and action are required", nil)
		return
	}

	instance, err := h.processor.SubmitAction(c.Request.Context(), engine.SubmitRequest{
		InstanceID: id,
		StepOrder:  req.StepOrder,
		ActorID:    req.ActorID,
		Action:     req.Action,
		Comment:    utils.SanitizeString(req.Comment),
		DelegateTo: req.DelegateTo,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponse(instance)})
}

// CancelInstance handles POST /api/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	var req CancelInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid cancel payload", err)
		return
	}
	if req.ActorID == "" {
		h.badRequest(c, "actor_id is required", nil)
		return
	}

	instance, err := h.processor.CancelInstance(c.Request.Context(), id, req.ActorID, req.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toInstanceResponse(instance)})
}

func (h *Handlers) instanceID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.badRequest(c, "invalid instance ID", err)
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		h.logger.Warn("Bad request", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// respondError maps service errors onto HTTP statuses. Unknown errors
// are logged and reported as 500 without leaking internals.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInstanceNotFound), errors.Is(err, registry.ErrFlowNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrConflict),
		errors.Is(err, engine.ErrStaleStep),
		errors.Is(err, engine.ErrInstanceTerminal),
		errors.Is(err, repository.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrNoFlowMatches), errors.Is(err, registry.ErrAmbiguousFlows):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidAction), errors.Is(err, registry.ErrInvalidFlow):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func (r FlowRequest) toModel() *models.ApprovalFlow {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	flow := &models.ApprovalFlow{
		Code:       r.Code,
		Name:       r.Name,
		TargetType: r.TargetType,
		Priority:   r.Priority,
		IsActive:   active,
		Scope: models.Scope{
			Region:     r.Region,
			Branch:     r.Branch,
			Department: r.Department,
			Position:   r.Position,
		},
	}
	for _, step := range r.Steps {
		flow.Steps = append(flow.Steps, &models.ApprovalFlowStep{
			StepOrder:          step.StepOrder,
			ApproverType:       step.ApproverType,
			ApproverRoleCode:   step.ApproverRoleCode,
			SpecificApproverID: step.SpecificApproverID,
			IsFinal:            step.IsFinal,
			CanSkip:            step.CanSkip,
			AutoApproveHours:   step.AutoApproveHours,
			EscalationRoleCode: step.EscalationRoleCode,
			EscalationHours:    step.EscalationHours,
			Instructions:       step.Instructions,
		})
	}
	return flow
}

func toFlowResponse(flow *models.ApprovalFlow) FlowResponse {
	resp := FlowResponse{
		ID:         flow.ID,
		Code:       flow.Code,
		Name:       flow.Name,
		TargetType: flow.TargetType,
		Priority:   flow.Priority,
		IsActive:   flow.IsActive,
		Region:     flow.Scope.Region,
		Branch:     flow.Scope.Branch,
		Department: flow.Scope.Department,
		Position:   flow.Scope.Position,
		Steps:      make([]FlowStepResponse, 0, len(flow.Steps)),
	}
	for _, step := range flow.Steps {
		resp.Steps = append(resp.Steps, FlowStepResponse{
			ID:                 step.ID,
			StepOrder:          step.StepOrder,
			ApproverType:       step.ApproverType,
			ApproverRoleCode:   step.ApproverRoleCode,
			SpecificApproverID: step.SpecificApproverID,
			IsFinal:            step.IsFinal,
			CanSkip:            step.CanSkip,
			AutoApproveHours:   step.AutoApproveHours,
			EscalationRoleCode: step.EscalationRoleCode,
			EscalationHours:    step.EscalationHours,
			Instructions:       step.Instructions,
		})
	}
	return resp
}

func toInstanceResponses(instances []*models.ApprovalInstance) []InstanceResponse {
	responses := make([]InstanceResponse, 0, len(instances))
	for _, instance := range instances {
		responses = append(responses, toInstanceResponse(instance))
	}
	return responses
}

// toInstanceResponse converts a stored instance to its API shape
func toInstanceResponse(instance *models.ApprovalInstance) InstanceResponse {
	resp := InstanceResponse{
		ID:               instance.ID,
		Code:             instance.Code,
		TargetType:       instance.TargetType,
		TargetID:         instance.TargetID,
		FlowID:           instance.FlowID,
		RequesterUserID:  instance.Requester.UserID,
		Status:           instance.Status,
		CurrentStepOrder: instance.CurrentStepOrder,
		IsUrgent:         instance.IsUrgent,
		StepEnteredAt:    instance.StepEnteredAt.UTC().Format(time.RFC3339),
		CreatedAt:        instance.CreatedAt.UTC().Format(time.RFC3339),
		FinalComment:     instance.FinalComment,
	}
	if instance.ResolvedAt != nil {
		resolved := instance.ResolvedAt.UTC().Format(time.RFC3339)
		resp.ResolvedAt = &resolved
	}
	return resp
}
