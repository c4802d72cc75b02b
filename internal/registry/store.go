// Package registry implements the Registry Store (spec §4.1): the
// versioned, file-backed catalog of Agents and Tasks. The store directory
// is a git working tree (agents.toml, tasks/<id>.json, tasks/<name>.md);
// every mutation produces exactly one commit and the tree is never left
// dirty at rest.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/noxhq/nox/internal/shared"
)

// Store owns the on-disk registry directory and its in-memory mirror.
// All mutating operations are serialized by mu; no lock is held across
// subprocess or network I/O (spec §5).
type Store struct {
	mu     sync.Mutex
	root   string
	git    *gitStore
	logger *slog.Logger

	agents       map[string]*Agent // by id
	agentsByName map[string]string // name -> id
	tasks        map[string]*Task  // by id

	// tasksByAgent is an in-memory reverse index, rebuilt from the task
	// store at Open and never persisted (spec §9 "Cyclic references").
	tasksByAgent map[string]map[string]struct{}
}

// Open initializes or loads a registry directory, ensuring it is a git
// working tree, running dirty-tree recovery if needed, and rebuilding the
// in-memory agent/task indexes (spec §4.1, §4.6 step 2).
func Open(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gs, err := openGitStore(root)
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:         root,
		git:          gs,
		logger:       logger,
		agents:       map[string]*Agent{},
		agentsByName: map[string]string{},
		tasks:        map[string]*Task{},
		tasksByAgent: map[string]map[string]struct{}{},
	}

	agents, err := loadAgentsToml(root)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		a := agents[i]
		s.agents[a.ID] = &a
		s.agentsByName[a.Name] = a.ID
	}

	ids, err := listTaskFiles(root)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		t, err := loadTask(root, id)
		if err != nil {
			// A malformed task record is logged, not fatal (spec §4.1
			// "violations are logged but not auto-repaired").
			logger.Error("skipping corrupt task record", "task_id", id, "error", err)
			continue
		}
		s.tasks[t.ID] = t
		s.indexTask(t)
	}

	if err := s.checkInvariants(); err != nil {
		logger.Error("registry invariant violation detected at startup", "error", err)
	}

	return s, nil
}

func (s *Store) indexTask(t *Task) {
	set, ok := s.tasksByAgent[t.AgentID]
	if !ok {
		set = map[string]struct{}{}
		s.tasksByAgent[t.AgentID] = set
	}
	set[t.ID] = struct{}{}
}

func (s *Store) unindexTask(t *Task) {
	if set, ok := s.tasksByAgent[t.AgentID]; ok {
		delete(set, t.ID)
	}
}

// checkInvariants re-validates spec §3's invariants (every task's agent_id
// resolves; at most one in-flight task per agent's cap). Violations are
// logged, never auto-repaired (spec §4.1 conflict policy).
func (s *Store) checkInvariants() error {
	var problems []string
	for _, t := range s.tasks {
		if _, ok := s.agents[t.AgentID]; !ok {
			problems = append(problems, fmt.Sprintf("task %s references missing agent %s", t.ID, t.AgentID))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d invariant violation(s): %v", len(problems), problems)
	}
	return nil
}

// --- Agents ---------------------------------------------------------------

// CreateAgent assigns an id, rejects duplicate names, and persists the new
// agent in a single commit (spec §4.1).
func (s *Store) CreateAgent(draft AgentDraft) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.Name == "" {
		return Agent{}, invalidInput("agent", "name", "must be non-empty")
	}
	if _, exists := s.agentsByName[draft.Name]; exists {
		return Agent{}, alreadyExists("agent", draft.Name)
	}

	now := time.Now().UTC()
	a := Agent{
		ID:             shared.NewID(),
		Name:           draft.Name,
		SystemPrompt:   draft.SystemPrompt,
		Status:         AgentInactive,
		CreatedAt:      now,
		LastActive:     now,
		ResourceLimits: draft.ResourceLimits,
		Metadata:       copyMap(draft.Metadata),
	}
	if a.ResourceLimits.MaxConcurrentTasks <= 0 {
		a.ResourceLimits.MaxConcurrentTasks = 1
	}

	if err := s.persistAgents(func() {
		s.agents[a.ID] = &a
		s.agentsByName[a.Name] = a.ID
	}, fmt.Sprintf("create agent %s", a.ID)); err != nil {
		delete(s.agents, a.ID)
		delete(s.agentsByName, a.Name)
		return Agent{}, err
	}
	return a, nil
}

// UpdateAgent applies patch to the agent identified by id. Attempting to
// change the id is rejected; id absence returns NotFound.
func (s *Store) UpdateAgent(id string, patch AgentPatch) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[id]
	if !ok {
		return Agent{}, notFound("agent", id)
	}
	updated := *existing
	if patch.SystemPrompt != nil {
		updated.SystemPrompt = *patch.SystemPrompt
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.ResourceLimits != nil {
		updated.ResourceLimits = *patch.ResourceLimits
	}
	if patch.LastActive != nil {
		updated.LastActive = *patch.LastActive
	}
	if patch.Metadata != nil {
		merged := copyMap(existing.Metadata)
		for k, v := range patch.Metadata {
			merged[k] = v
		}
		updated.Metadata = merged
	}

	if err := s.persistAgents(func() {
		s.agents[id] = &updated
	}, fmt.Sprintf("update agent %s", id)); err != nil {
		s.agents[id] = existing
		return Agent{}, err
	}
	return updated, nil
}

// DeleteAgent removes a, rejecting the call if any non-terminal task
// references it, and cascade-deleting terminal tasks (spec §4.1).
func (s *Store) DeleteAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return notFound("agent", id)
	}

	var terminalToDelete []*Task
	for taskID := range s.tasksByAgent[id] {
		t := s.tasks[taskID]
		if t == nil {
			continue
		}
		if !t.Status.IsTerminal() {
			return constraintViolation("agent", id, "agent has a non-terminal task "+t.ID)
		}
		terminalToDelete = append(terminalToDelete, t)
	}

	prevAgents := cloneAgentMap(s.agents)
	prevByName := cloneStringMap(s.agentsByName)
	prevTasks := cloneTaskMap(s.tasks)

	delete(s.agents, id)
	delete(s.agentsByName, a.Name)
	for _, t := range terminalToDelete {
		delete(s.tasks, t.ID)
		s.unindexTask(t)
	}
	delete(s.tasksByAgent, id)

	if err := s.git.resetHard(); err != nil {
		s.logger.Warn("reset before delete failed", "error", err)
	}
	if err := writeAgentsToml(s.root, agentSlice(s.agents)); err != nil {
		s.restoreAgents(prevAgents, prevByName, prevTasks)
		return err
	}
	for _, t := range terminalToDelete {
		if err := deleteTask(s.root, t.ID); err != nil {
			s.restoreAgents(prevAgents, prevByName, prevTasks)
			return err
		}
	}
	if _, err := s.git.commit(fmt.Sprintf("delete agent %s", id)); err != nil {
		s.restoreAgents(prevAgents, prevByName, prevTasks)
		return ioError("agent", id, "commit delete", err)
	}
	return nil
}

func (s *Store) restoreAgents(agents map[string]*Agent, byName map[string]string, tasks map[string]*Task) {
	s.agents = agents
	s.agentsByName = byName
	s.tasks = tasks
	s.tasksByAgent = map[string]map[string]struct{}{}
	for _, t := range tasks {
		s.indexTask(t)
	}
}

// GetAgent looks an agent up by id or name.
func (s *Store) GetAgent(idOrName string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[idOrName]; ok {
		return *a, nil
	}
	if id, ok := s.agentsByName[idOrName]; ok {
		return *s.agents[id], nil
	}
	return Agent{}, notFound("agent", idOrName)
}

// ListAgents returns a snapshot copy of every agent.
func (s *Store) ListAgents() []Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// persistAgents applies mutate to the in-memory maps, writes agents.toml,
// and commits. On any failure it does not roll mutate back itself; callers
// restore their own in-memory state from the return value.
func (s *Store) persistAgents(mutate func(), message string) error {
	mutate()
	if err := writeAgentsToml(s.root, agentSlice(s.agents)); err != nil {
		return err
	}
	if _, err := s.git.commit(message); err != nil {
		return ioError("agent", message, "commit", err)
	}
	return nil
}

func agentSlice(m map[string]*Agent) []Agent {
	out := make([]Agent, 0, len(m))
	for _, a := range m {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAgentMap(m map[string]*Agent) map[string]*Agent {
	out := make(map[string]*Agent, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTaskMap(m map[string]*Task) map[string]*Task {
	out := make(map[string]*Task, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

// --- Tasks ------------------------------------------------------------

// CreateTask validates that draft.AgentID resolves to an existing agent
// (spec §3), assigns an id, and persists the task plus the regenerated
// Markdown mirror for its agent in a single commit.
func (s *Store) CreateTask(draft TaskDraft) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[draft.AgentID]
	if !ok {
		return Task{}, invalidInput("task", "agent_id", "references unknown agent "+draft.AgentID)
	}
	if draft.Title == "" {
		return Task{}, invalidInput("task", "title", "must be non-empty")
	}

	t := Task{
		ID:          shared.NewID(),
		AgentID:     draft.AgentID,
		Title:       draft.Title,
		Description: draft.Description,
		Status:      TaskTodo,
		Priority:    draft.Priority,
		CreatedAt:   time.Now().UTC(),
		Metadata:    copyMap(draft.Metadata),
	}

	prevTasks := cloneTaskMap(s.tasks)
	s.tasks[t.ID] = &t
	s.indexTask(&t)

	if err := s.persistTaskMutation(agent, fmt.Sprintf("create task %s", t.ID)); err != nil {
		s.tasks = prevTasks
		s.unindexTask(&t)
		return Task{}, err
	}
	return t, nil
}

// UpdateTask applies patch to the task identified by id. Mutating a task
// already in a terminal state is rejected (spec §4.3 finality).
func (s *Store) UpdateTask(id string, patch TaskPatch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return Task{}, notFound("task", id)
	}
	if existing.Status.IsTerminal() {
		return Task{}, alreadyTerminal("task", id)
	}
	agent, ok := s.agents[existing.AgentID]
	if !ok {
		return Task{}, corruption("task", id, fmt.Errorf("agent %s no longer exists", existing.AgentID))
	}

	updated := *existing
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.Progress != nil {
		updated.Progress = patch.Progress
	}
	if patch.StartedAt != nil {
		updated.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		updated.CompletedAt = patch.CompletedAt
	}
	if patch.Metadata != nil {
		merged := copyMap(existing.Metadata)
		for k, v := range patch.Metadata {
			merged[k] = v
		}
		updated.Metadata = merged
	}

	prevTasks := cloneTaskMap(s.tasks)
	s.tasks[id] = &updated

	if err := s.persistTaskMutation(agent, fmt.Sprintf("update task %s", id)); err != nil {
		s.tasks = prevTasks
		return Task{}, err
	}
	return updated, nil
}

// DeleteTask removes a task record and regenerates its agent's Markdown
// mirror. Unlike agent deletion this has no referential-integrity
// concerns, since tasks are leaves.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return notFound("task", id)
	}
	agent, ok := s.agents[existing.AgentID]
	if !ok {
		return corruption("task", id, fmt.Errorf("agent %s no longer exists", existing.AgentID))
	}

	prevTasks := cloneTaskMap(s.tasks)
	delete(s.tasks, id)
	s.unindexTask(existing)

	if err := s.git.resetHard(); err != nil {
		s.logger.Warn("reset before task delete failed", "error", err)
	}
	if err := deleteTask(s.root, id); err != nil {
		s.tasks = prevTasks
		s.indexTask(existing)
		return err
	}
	if err := s.writeAgentMarkdown(agent); err != nil {
		s.tasks = prevTasks
		s.indexTask(existing)
		return err
	}
	if _, err := s.git.commit(fmt.Sprintf("delete task %s", id)); err != nil {
		s.tasks = prevTasks
		s.indexTask(existing)
		return ioError("task", id, "commit delete", err)
	}
	return nil
}

// GetTask looks a task up by id.
func (s *Store) GetTask(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, notFound("task", id)
	}
	return *t, nil
}

// ListTasks returns a snapshot copy of every task, optionally filtered to
// a single agent when agentID is non-empty.
func (s *Store) ListTasks(agentID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	if agentID != "" {
		for id := range s.tasksByAgent[agentID] {
			if t, ok := s.tasks[id]; ok {
				out = append(out, *t)
			}
		}
	} else {
		out = make([]Task, 0, len(s.tasks))
		for _, t := range s.tasks {
			out = append(out, *t)
		}
	}
	sortByPriorityThenAge(out)
	return out
}

// persistTaskMutation writes the mutated task (read from s.tasks, by the
// id the caller just touched) and the regenerated Markdown mirror for
// agent, then commits both as one git commit. No lock is held across
// subprocess or network I/O; this only performs local disk writes.
func (s *Store) persistTaskMutation(agent *Agent, message string) error {
	for _, id := range s.taskIDsForAgent(agent.ID) {
		t := s.tasks[id]
		if err := writeTask(s.root, t); err != nil {
			return err
		}
	}
	if err := s.writeAgentMarkdown(agent); err != nil {
		return err
	}
	if _, err := s.git.commit(message); err != nil {
		return ioError("task", message, "commit", err)
	}
	return nil
}

func (s *Store) taskIDsForAgent(agentID string) []string {
	set := s.tasksByAgent[agentID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// writeAgentMarkdown regenerates and atomically writes the human-facing
// tasks/<name>.md mirror for agent from the current in-memory task set
// (spec §4.1, §4.5). It is always called as part of a task mutation so
// that it is never the sole change in a commit.
func (s *Store) writeAgentMarkdown(agent *Agent) error {
	tasks := make([]Task, 0, len(s.tasksByAgent[agent.ID]))
	for id := range s.tasksByAgent[agent.ID] {
		if t, ok := s.tasks[id]; ok {
			tasks = append(tasks, *t)
		}
	}
	content := RenderMarkdown(agent.Name, tasks)
	return atomicWrite(agentMarkdownPath(s.root, agent.Name), []byte(content))
}
