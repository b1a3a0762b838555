// Package board holds the session-scoped, in-memory view of tasks and users.
// It merges three inputs into one consistent picture: local mutations, REST
// responses, and realtime push events. REST responses are authoritative; push
// events are best-effort and applied last-write-wins by id.
package board

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/boardsync/internal/api"
	"github.com/ent0n29/boardsync/internal/observability"
	"github.com/ent0n29/boardsync/internal/realtime"
	"github.com/ent0n29/boardsync/internal/tokenstore"
)

var ErrTaskNotFound = errors.New("board: task not found")

// Publisher mirrors local mutations outward so peer sessions update without
// polling. Implementations must be non-blocking; realtime.Channel qualifies.
type Publisher interface {
	PublishTaskCreated(api.Task)
	PublishTaskUpdated(api.Task)
	PublishTaskDeleted(id string)
}

// Change notifies subscribers that the board view moved; the UI re-reads the
// snapshot rather than diffing.
type Change struct {
	Type   string
	TaskID string
}

// Cache owns the task and user collections for the lifetime of an
// authenticated session. All collections are insertion-ordered and keyed by
// id; mutations are monotonic replacements.
type Cache struct {
	client  *api.Client
	pub     Publisher
	store   tokenstore.Store
	log     zerolog.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	ownerID   string
	tasks     map[string]api.Task
	taskOrder []string
	users     map[string]api.User
	userOrder []string

	subscribers map[int]chan Change
	nextSubID   int
}

func NewCache(client *api.Client, pub Publisher, store tokenstore.Store, log zerolog.Logger, metrics *observability.Metrics) *Cache {
	return &Cache{
		client:      client,
		pub:         pub,
		store:       store,
		log:         log,
		metrics:     metrics,
		tasks:       make(map[string]api.Task),
		users:       make(map[string]api.User),
		subscribers: make(map[int]chan Change),
	}
}

// SetOwner records whose session this cache serves; used for created-task
// attribution when the remote API omits the creator.
func (c *Cache) SetOwner(userID string) {
	c.mu.Lock()
	c.ownerID = userID
	c.mu.Unlock()
}

// Load populates the cache from two independent list calls. An empty initial
// task list falls back to an explicit default-project-scoped listing, covering
// backends that require project scoping for certain roles.
func (c *Cache) Load(ctx context.Context) {
	tasks := c.client.ListTasks(ctx)
	if len(tasks) == 0 {
		if projectID, err := c.client.DefaultProjectID(ctx); err == nil {
			tasks = c.client.ListProjectTasks(ctx, projectID)
		} else {
			c.log.Warn().Err(err).Msg("default project unavailable for task list fallback")
		}
	}
	users := c.client.ListUsers(ctx)

	c.mu.Lock()
	c.tasks = make(map[string]api.Task, len(tasks))
	c.taskOrder = c.taskOrder[:0]
	for _, t := range tasks {
		c.attributeLocked(&t)
		if _, exists := c.tasks[t.ID]; exists {
			continue
		}
		c.tasks[t.ID] = t
		c.taskOrder = append(c.taskOrder, t.ID)
	}
	c.users = make(map[string]api.User, len(users))
	c.userOrder = c.userOrder[:0]
	for _, u := range users {
		if _, exists := c.users[u.ID]; exists {
			continue
		}
		c.users[u.ID] = u
		c.userOrder = append(c.userOrder, u.ID)
	}
	c.setGaugeLocked()
	c.mu.Unlock()
	c.notify(Change{Type: "loaded"})
}

// attributeLocked fills in the creator for tasks this client created when the
// backend does not report one.
func (c *Cache) attributeLocked(t *api.Task) {
	if t.CreatedByID != "" || c.ownerID == "" || c.store == nil {
		return
	}
	for _, id := range tokenstore.CreatedTaskIDs(c.store, c.ownerID) {
		if id == t.ID {
			t.CreatedByID = c.ownerID
			return
		}
	}
}

// Tasks returns the tasks in insertion order.
func (c *Cache) Tasks() []api.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]api.Task, 0, len(c.taskOrder))
	for _, id := range c.taskOrder {
		out = append(out, c.tasks[id].Clone())
	}
	return out
}

func (c *Cache) Users() []api.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]api.User, 0, len(c.userOrder))
	for _, id := range c.userOrder {
		out = append(out, c.users[id])
	}
	return out
}

func (c *Cache) Task(id string) (api.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return api.Task{}, false
	}
	return t.Clone(), true
}

// Local mutations ------------------------------------------------------------
//
// Each mutation calls the remote API first, applies the authoritative
// response, then mirrors it outward on the realtime channel.

func (c *Cache) CreateTask(ctx context.Context, req api.CreateTaskRequest) (api.Task, error) {
	task, err := c.client.CreateTask(ctx, req)
	if err != nil {
		return api.Task{}, err
	}

	c.mu.Lock()
	if c.store != nil && c.ownerID != "" && task.CreatedByID == "" {
		if err := tokenstore.AddCreatedTaskID(c.store, c.ownerID, task.ID); err != nil {
			c.log.Warn().Err(err).Msg("record created task attribution")
		}
		task.CreatedByID = c.ownerID
	}
	c.upsertLocked(task)
	c.mu.Unlock()

	if c.pub != nil {
		c.pub.PublishTaskCreated(task)
	}
	c.notify(Change{Type: realtime.EventTaskCreated, TaskID: task.ID})
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, req api.UpdateTaskRequest) (api.Task, error) {
	task, err := c.client.UpdateTask(ctx, id, req)
	if err != nil {
		return api.Task{}, err
	}
	c.applyUpdate(task)
	return task, nil
}

// MoveTask is the drag-and-drop status transition.
func (c *Cache) MoveTask(ctx context.Context, id string, status api.Status) (api.Task, error) {
	task, err := c.client.UpdateTaskStatus(ctx, id, status)
	if err != nil {
		return api.Task{}, err
	}
	c.applyUpdate(task)
	return task, nil
}

func (c *Cache) applyUpdate(task api.Task) {
	c.mu.Lock()
	c.attributeLocked(&task)
	c.upsertLocked(task)
	c.mu.Unlock()

	if c.pub != nil {
		c.pub.PublishTaskUpdated(task)
	}
	c.notify(Change{Type: realtime.EventTaskUpdated, TaskID: task.ID})
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.client.DeleteTask(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	removed := c.removeLocked(id)
	c.mu.Unlock()
	if !removed {
		// Already gone locally (e.g. a push event beat the response); the
		// remote delete still succeeded, so report success.
		return nil
	}

	if c.pub != nil {
		c.pub.PublishTaskDeleted(id)
	}
	c.notify(Change{Type: realtime.EventTaskDeleted, TaskID: id})
	return nil
}

// Apply merges one inbound push event. Creation events are deduplicated
// against existing ids; updates only replace entries that still exist, so a
// stale update can never resurrect a deleted task.
func (c *Cache) Apply(ev realtime.Event) {
	c.mu.Lock()
	changed := false
	switch ev.Type {
	case realtime.EventTaskCreated:
		if ev.Task != nil {
			if _, exists := c.tasks[ev.Task.ID]; !exists {
				t := ev.Task.Clone()
				c.attributeLocked(&t)
				c.upsertLocked(t)
				changed = true
			}
		}
	case realtime.EventTaskUpdated:
		if ev.Task != nil {
			if _, exists := c.tasks[ev.Task.ID]; exists {
				t := ev.Task.Clone()
				c.attributeLocked(&t)
				c.upsertLocked(t)
				changed = true
			}
		}
	case realtime.EventTaskDeleted:
		changed = c.removeLocked(ev.ID)
	case realtime.EventUserJoined:
		if ev.User != nil {
			if _, exists := c.users[ev.User.ID]; !exists {
				c.users[ev.User.ID] = *ev.User
				c.userOrder = append(c.userOrder, ev.User.ID)
				changed = true
			}
		}
	case realtime.EventUserLeft:
		if _, exists := c.users[ev.ID]; exists {
			delete(c.users, ev.ID)
			c.userOrder = removeID(c.userOrder, ev.ID)
			changed = true
		}
	}
	c.setGaugeLocked()
	c.mu.Unlock()

	if changed {
		c.notify(Change{Type: ev.Type, TaskID: ev.ID})
	}
}

// Clear drops both collections; called when the session ends.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.ownerID = ""
	c.tasks = make(map[string]api.Task)
	c.taskOrder = nil
	c.users = make(map[string]api.User)
	c.userOrder = nil
	c.setGaugeLocked()
	c.mu.Unlock()
	c.notify(Change{Type: "cleared"})
}

// Subscribe registers for change notifications. Slow subscribers miss
// notifications rather than blocking mutations.
func (c *Cache) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 64)
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subscribers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

func (c *Cache) notify(change Change) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		select {
		case sub <- change:
		default:
		}
	}
}

func (c *Cache) upsertLocked(task api.Task) {
	if _, exists := c.tasks[task.ID]; !exists {
		c.taskOrder = append(c.taskOrder, task.ID)
	}
	c.tasks[task.ID] = task
	c.setGaugeLocked()
}

func (c *Cache) removeLocked(id string) bool {
	if _, exists := c.tasks[id]; !exists {
		return false
	}
	delete(c.tasks, id)
	c.taskOrder = removeID(c.taskOrder, id)
	c.setGaugeLocked()
	return true
}

func (c *Cache) setGaugeLocked() {
	if c.metrics != nil {
		c.metrics.CachedTasks.Set(float64(len(c.tasks)))
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
