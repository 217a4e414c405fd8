package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dshills/devspace/workflow/store"
	"github.com/dshills/devspace/workspace"
)

func int64Param(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return id, nil
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// createProject creates an empty project for the caller.
// (POST /api/projects)
func (s *Server) createProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}

	p, err := s.svc.CreateProject(c.Request().Context(), userID(c), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

// listProjects returns the caller's projects.
// (GET /api/projects)
func (s *Server) listProjects(c echo.Context) error {
	list, err := s.svc.Projects(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

type importRequest struct {
	URL string `json:"url"`
}

// importProject starts a GitHub import.
// (POST /api/projects/import)
func (s *Server) importProject(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}

	res, err := s.svc.Import(c.Request().Context(), userID(c), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, res)
}

// getProject returns a project and its import status.
// (GET /api/projects/:projectId)
func (s *Server) getProject(c echo.Context) error {
	id, err := int64Param(c, "projectId")
	if err != nil {
		return err
	}
	p, err := s.svc.Project(c.Request().Context(), userID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// listFiles returns a project's file tree rows.
// (GET /api/projects/:projectId/files)
func (s *Server) listFiles(c echo.Context) error {
	id, err := int64Param(c, "projectId")
	if err != nil {
		return err
	}
	files, err := s.svc.Files(c.Request().Context(), userID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

// listConversations returns a project's conversations, latest first.
// (GET /api/projects/:projectId/conversations)
func (s *Server) listConversations(c echo.Context) error {
	id, err := int64Param(c, "projectId")
	if err != nil {
		return err
	}
	convs, err := s.svc.Conversations(c.Request().Context(), userID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convs)
}

type sendMessageRequest struct {
	ConversationID int64  `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// sendMessage stores a user message and starts the reply.
// (POST /api/projects/:projectId/messages)
func (s *Server) sendMessage(c echo.Context) error {
	projectID, err := int64Param(c, "projectId")
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.")
	}

	res, err := s.svc.SendMessage(c.Request().Context(), userID(c), workspace.SendMessageInput{
		ProjectID:      projectID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, res)
}

// getConversation returns a conversation with its messages in order.
// (GET /api/conversations/:conversationId)
func (s *Server) getConversation(c echo.Context) error {
	id, err := int64Param(c, "conversationId")
	if err != nil {
		return err
	}
	conv, err := s.svc.Conversation(c.Request().Context(), userID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

type runResponse struct {
	store.Run
	Steps []store.StepRecord `json:"steps"`
}

// getRun returns a run's ledger row and step outcomes, so clients can
// discover failures after the stream ended.
// (GET /api/runs/:runId)
func (s *Server) getRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("runId")

	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	steps, err := s.ledger.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runResponse{Run: run, Steps: steps})
}
