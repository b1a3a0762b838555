package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ListTasks returns the user's visible tasks. Per the degradation policy for
// read-only board listings, failures collapse to an empty slice so the board
// can still render; every other task operation propagates its error.
func (c *Client) ListTasks(ctx context.Context) []Task {
	tasks, err := c.listTasks(ctx, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("task list degraded to empty")
		return []Task{}
	}
	return tasks
}

// ListProjectTasks lists tasks scoped to one project. Same degradation policy
// as ListTasks; this is the fallback for backends that require project scoping
// for certain roles.
func (c *Client) ListProjectTasks(ctx context.Context, projectID string) []Task {
	query := url.Values{"projectId": {projectID}}
	tasks, err := c.listTasks(ctx, query)
	if err != nil {
		c.log.Warn().Err(err).Str("project_id", projectID).Msg("project task list degraded to empty")
		return []Task{}
	}
	return tasks
}

func (c *Client) listTasks(ctx context.Context, query url.Values) ([]Task, error) {
	path := "/tasks"
	if len(query) > 0 {
		path = "/tasks/"
	}
	var wire []WireTask
	if err := c.do(ctx, http.MethodGet, path, query, nil, &wire, reqOpts{}); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]Task, 0, len(wire))
	for _, w := range wire {
		tasks = append(tasks, w.Domain())
	}
	return tasks, nil
}

// CreateTask creates a task under the lazily resolved default project; the
// caller never supplies a project id.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (Task, error) {
	projectID, err := c.DefaultProjectID(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}

	status := req.Status
	if status == "" {
		status = StatusToDo
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	payload := struct {
		Title       string     `json:"title"`
		Description string     `json:"description,omitempty"`
		Status      string     `json:"status"`
		Priority    string     `json:"priority"`
		ProjectID   *int64     `json:"projectId"`
		AssigneeID  *int64     `json:"assigneeId,omitempty"`
		DueDate     *time.Time `json:"dueDate,omitempty"`
		Tags        []string   `json:"tags,omitempty"`
	}{
		Title:       req.Title,
		Description: req.Description,
		Status:      StatusToWire(status),
		Priority:    PriorityToWire(priority),
		ProjectID:   optionalWireID(projectID),
		AssigneeID:  optionalWireID(req.AssigneeID),
		DueDate:     req.DueDate,
		Tags:        req.Tags,
	}

	var w WireTask
	if err := c.do(ctx, http.MethodPost, "/tasks/", nil, payload, &w, reqOpts{}); err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return w.Domain(), nil
}

// UpdateTask sends only the fields the caller set. An AssigneeID set to the
// empty string goes out as an explicit JSON null so the backend clears the
// assignee instead of ignoring the field.
func (c *Client) UpdateTask(ctx context.Context, id string, req UpdateTaskRequest) (Task, error) {
	payload := map[string]any{}
	if req.Title != nil {
		payload["title"] = *req.Title
	}
	if req.Description != nil {
		payload["description"] = *req.Description
	}
	if req.Status != nil {
		payload["status"] = StatusToWire(*req.Status)
	}
	if req.Priority != nil {
		payload["priority"] = PriorityToWire(*req.Priority)
	}
	if req.AssigneeID != nil {
		if wireID := optionalWireID(*req.AssigneeID); wireID != nil {
			payload["assigneeId"] = *wireID
		} else {
			payload["assigneeId"] = nil
		}
	}
	if req.DueDate != nil {
		payload["dueDate"] = *req.DueDate
	}
	if req.Tags != nil {
		payload["tags"] = req.Tags
	}

	var w WireTask
	if err := c.do(ctx, http.MethodPut, "/tasks/"+id, nil, payload, &w, reqOpts{}); err != nil {
		return Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return w.Domain(), nil
}

// UpdateTaskStatus is the drag-and-drop transition: a dedicated endpoint so
// the backend can enforce column rules without a full task payload.
func (c *Client) UpdateTaskStatus(ctx context.Context, id string, status Status) (Task, error) {
	payload := map[string]string{"status": StatusToWire(status)}
	var w WireTask
	if err := c.do(ctx, http.MethodPatch, "/tasks/"+id+"/status", nil, payload, &w, reqOpts{}); err != nil {
		return Task{}, fmt.Errorf("update task %s status: %w", id, err)
	}
	return w.Domain(), nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+id, nil, nil, nil, reqOpts{}); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}
