package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/boardsync/internal/tokenstore"
)

func (c *Client) ListTeams(ctx context.Context) ([]Team, error) {
	var wire []wireTeam
	if err := c.do(ctx, http.MethodGet, "/teams", nil, nil, &wire, reqOpts{}); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	teams := make([]Team, 0, len(wire))
	for _, w := range wire {
		teams = append(teams, w.domain())
	}
	return teams, nil
}

func (c *Client) GetTeam(ctx context.Context, id string) (Team, error) {
	var w wireTeam
	if err := c.do(ctx, http.MethodGet, "/teams/"+id, nil, nil, &w, reqOpts{}); err != nil {
		return Team{}, fmt.Errorf("fetch team %s: %w", id, err)
	}
	return w.domain(), nil
}

func (c *Client) TeamMembers(ctx context.Context, id string) ([]User, error) {
	var wire []WireUser
	if err := c.do(ctx, http.MethodGet, "/teams/"+id+"/members", nil, nil, &wire, reqOpts{}); err != nil {
		return nil, fmt.Errorf("list team %s members: %w", id, err)
	}
	users := make([]User, 0, len(wire))
	for _, w := range wire {
		users = append(users, w.Domain())
	}
	return users, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var wire []wireProject
	if err := c.do(ctx, http.MethodGet, "/projects/", nil, nil, &wire, reqOpts{}); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]Project, 0, len(wire))
	for _, w := range wire {
		projects = append(projects, w.domain())
	}
	return projects, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var w wireProject
	if err := c.do(ctx, http.MethodGet, "/projects/"+id, nil, nil, &w, reqOpts{}); err != nil {
		return Project{}, fmt.Errorf("fetch project %s: %w", id, err)
	}
	return w.domain(), nil
}

func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error) {
	payload := struct {
		Name   string `json:"name"`
		TeamID *int64 `json:"teamId"`
	}{Name: req.Name, TeamID: optionalWireID(req.TeamID)}

	var w wireProject
	if err := c.do(ctx, http.MethodPost, "/projects/", nil, payload, &w, reqOpts{}); err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return w.domain(), nil
}

// DefaultProjectID resolves the project that scopes task creation and the
// realtime room. The UI never collects a project, so the client reuses a
// memoized id, falls back to the first listed project, and as a last resort
// creates a project under the user's first team.
func (c *Client) DefaultProjectID(ctx context.Context) (string, error) {
	if id, ok := c.store.Get(tokenstore.KeyDefaultProjectID); ok && strings.TrimSpace(id) != "" {
		return id, nil
	}

	projects, err := c.ListProjects(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve default project: %w", err)
	}
	if len(projects) > 0 {
		c.memoizeDefaultProject(projects[0].ID)
		return projects[0].ID, nil
	}

	teams, err := c.ListTeams(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve default project: %w", err)
	}
	if len(teams) == 0 {
		return "", ErrNoTeamAvailable
	}

	project, err := c.CreateProject(ctx, CreateProjectRequest{Name: "Main Board", TeamID: teams[0].ID})
	if err != nil {
		return "", fmt.Errorf("resolve default project: %w", err)
	}
	c.memoizeDefaultProject(project.ID)
	return project.ID, nil
}

func (c *Client) memoizeDefaultProject(id string) {
	if err := c.store.Set(tokenstore.KeyDefaultProjectID, id); err != nil {
		c.log.Warn().Err(err).Msg("memoize default project id")
	}
}
