// Package api contains the HTTP handlers for the approval gate
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"approval-gate/backend/internal/services"
	"approval-gate/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// Server holds the dependencies for the workflow endpoints.
type Server struct {
	Workflows services.Workflows
	logger    services.Logger
}

// NewServer creates a new Server.
func NewServer(workflows services.Workflows, logger services.Logger) *Server {
	return &Server{Workflows: workflows, logger: logger}
}

// RegisterHandlers mounts the workflow endpoints on router.
func RegisterHandlers(router EchoRouter, s *Server) {
	router.POST("/v1/workflows", s.CreateWorkflow)
	router.GET("/v1/workflows/:workflow_id", s.GetWorkflow)
	router.POST("/v1/workflows/:workflow_id/approve", s.ApproveWorkflow)
	router.POST("/v1/workflows/:workflow_id/reject", s.RejectWorkflow)
}

// createWorkflowBody mirrors models.CreateWorkflowRequest but decodes
// timeout_minutes as a number, so integral floats such as 1.0 are accepted.
// The schema has already bounded it to a whole number in range.
type createWorkflowBody struct {
	Action         string                 `json:"action"`
	RequestedBy    string                 `json:"requested_by"`
	Context        map[string]interface{} `json:"context"`
	TimeoutMinutes float64                `json:"timeout_minutes"`
}

// CreateWorkflow records a new pending approval request
// (POST /v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	if err := validateCreateWorkflow(body); err != nil {
		return unprocessable(c, err.Error())
	}

	var req createWorkflowBody
	if err := json.Unmarshal(body, &req); err != nil {
		return unprocessable(c, "invalid request body: "+err.Error())
	}

	record, err := s.Workflows.Create(c.Request().Context(), services.CreateWorkflowInput{
		Action:         req.Action,
		RequestedBy:    req.RequestedBy,
		Context:        req.Context,
		TimeoutMinutes: int(req.TimeoutMinutes),
	})
	if err != nil {
		return s.writeServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, models.CreateWorkflowResponse{
		WorkflowID: record.WorkflowID,
		Status:     record.Status,
		ExpiresAt:  record.ExpiresAt,
	})
}

// GetWorkflow returns the current state of a workflow
// (GET /v1/workflows/{workflow_id})
func (s *Server) GetWorkflow(c echo.Context) error {
	record, err := s.Workflows.Get(c.Request().Context(), c.Param("workflow_id"))
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// ApproveWorkflow resolves a workflow as APPROVED
// (POST /v1/workflows/{workflow_id}/approve)
func (s *Server) ApproveWorkflow(c echo.Context) error {
	return s.resolve(c, s.Workflows.Approve)
}

// RejectWorkflow resolves a workflow as REJECTED
// (POST /v1/workflows/{workflow_id}/reject)
func (s *Server) RejectWorkflow(c echo.Context) error {
	return s.resolve(c, s.Workflows.Reject)
}

type resolveFunc func(ctx context.Context, id, reviewer string) (*models.WorkflowRecord, error)

func (s *Server) resolve(c echo.Context, decide resolveFunc) error {
	body, err := readBody(c)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	if err := validateReview(body); err != nil {
		return unprocessable(c, err.Error())
	}

	var req models.ReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return unprocessable(c, "invalid request body: "+err.Error())
	}

	record, err := decide(c.Request().Context(), c.Param("workflow_id"), req.ReviewedBy)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// writeServiceError maps service errors onto HTTP responses.
func (s *Server) writeServiceError(c echo.Context, err error) error {
	var (
		validationErr *services.ValidationError
		notFound      *services.NotFoundError
		conflict      *services.ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		return unprocessable(c, validationErr.Error())
	case errors.As(err, &notFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:  "workflow not found",
			Detail: notFound.Error(),
		})
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:         "workflow already resolved",
			CurrentStatus: conflict.CurrentStatus,
		})
	}

	s.logger.Error("Request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
}

func unprocessable(c echo.Context, detail string) error {
	return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
		Error:  "validation failed",
		Detail: detail,
	})
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, errors.New("failed to read request body: " + err.Error())
	}
	return body, nil
}
