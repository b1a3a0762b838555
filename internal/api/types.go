package api

import (
	"strconv"
	"time"
)

// Status is the board-facing task status vocabulary. The remote API speaks
// snake_case ("todo", "in_progress", "done"); the mapping lives in
// StatusFromWire / StatusToWire and is applied on every task read and write.
type Status string

const (
	StatusToDo       Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

const (
	wireStatusToDo       = "todo"
	wireStatusInProgress = "in_progress"
	wireStatusDone       = "done"
)

// StatusFromWire maps an API status value; anything unrecognized becomes To Do.
func StatusFromWire(s string) Status {
	switch s {
	case wireStatusToDo:
		return StatusToDo
	case wireStatusInProgress:
		return StatusInProgress
	case wireStatusDone:
		return StatusDone
	default:
		return StatusToDo
	}
}

func StatusToWire(s Status) string {
	switch s {
	case StatusInProgress:
		return wireStatusInProgress
	case StatusDone:
		return wireStatusDone
	default:
		return wireStatusToDo
	}
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func PriorityFromWire(p string) Priority {
	switch p {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

func PriorityToWire(p Priority) string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Task is the client-side task record. Identifiers are the string form of the
// remote numeric ids.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CreatedByID string     `json:"createdById,omitempty"`
	ProjectID   string     `json:"projectId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	if t.Tags != nil {
		out.Tags = make([]string, len(t.Tags))
		copy(out.Tags, t.Tags)
	}
	return out
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"teamId,omitempty"`
}

// Credentials are ephemeral; they are never stored beyond the request that
// uses them.
type Credentials struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResult is the outcome of a successful login, signup or refresh.
type AuthResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// UpdateTaskRequest carries a partial update; nil fields are left untouched.
type UpdateTaskRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	AssigneeID  *string    `json:"assigneeId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

type CreateProjectRequest struct {
	Name   string `json:"name"`
	TeamID string `json:"teamId"`
}

// Wire DTOs ------------------------------------------------------------------
//
// The remote API represents identifiers as JSON numbers and enum values in
// snake_case. WireTask/WireUser are shared with the realtime channel so push
// payloads and REST payloads stay byte-compatible.

type WireTask struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	AssigneeID  *int64     `json:"assigneeId,omitempty"`
	CreatedByID *int64     `json:"createdById,omitempty"`
	ProjectID   *int64     `json:"projectId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

func (w WireTask) Domain() Task {
	return Task{
		ID:          strconv.FormatInt(w.ID, 10),
		Title:       w.Title,
		Description: w.Description,
		Status:      StatusFromWire(w.Status),
		Priority:    PriorityFromWire(w.Priority),
		AssigneeID:  optionalID(w.AssigneeID),
		CreatedByID: optionalID(w.CreatedByID),
		ProjectID:   optionalID(w.ProjectID),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		DueDate:     w.DueDate,
		Tags:        w.Tags,
	}
}

func WireFromTask(t Task) WireTask {
	return WireTask{
		ID:          parseID(t.ID),
		Title:       t.Title,
		Description: t.Description,
		Status:      StatusToWire(t.Status),
		Priority:    PriorityToWire(t.Priority),
		AssigneeID:  optionalWireID(t.AssigneeID),
		CreatedByID: optionalWireID(t.CreatedByID),
		ProjectID:   optionalWireID(t.ProjectID),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		DueDate:     t.DueDate,
		Tags:        t.Tags,
	}
}

type WireUser struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (w WireUser) Domain() User {
	role := Role(w.Role)
	if role != RoleAdmin {
		role = RoleMember
	}
	return User{
		ID:        strconv.FormatInt(w.ID, 10),
		Email:     w.Email,
		Username:  w.Username,
		Role:      role,
		CreatedAt: w.CreatedAt,
	}
}

type wireTeam struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (w wireTeam) domain() Team {
	return Team{ID: strconv.FormatInt(w.ID, 10), Name: w.Name}
}

type wireProject struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	TeamID *int64 `json:"teamId,omitempty"`
}

func (w wireProject) domain() Project {
	return Project{
		ID:     strconv.FormatInt(w.ID, 10),
		Name:   w.Name,
		TeamID: optionalID(w.TeamID),
	}
}

type wireAuthResult struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         WireUser `json:"user"`
}

func optionalID(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optionalWireID(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseID(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
