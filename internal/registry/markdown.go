package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// markdownHeadings lists the fixed section order of the mirror file
// (spec §4.5): In Progress, Todo, Done, Cancelled, Error.
var markdownHeadings = []struct {
	status TaskStatus
	title  string
}{
	{TaskInProgress, "In Progress"},
	{TaskTodo, "Todo"},
	{TaskDone, "Done"},
	{TaskCancelled, "Cancelled"},
	{TaskError, "Error"},
}

func agentMarkdownPath(root, agentName string) string {
	return filepath.Join(root, "tasks", agentName+".md")
}

// RenderMarkdown is a pure function of an agent name and its task snapshot
// (ordered by the ready-queue convention, priority DESC then created_at ASC)
// producing the human-facing mirror file. It is lossy by design (no ids, no
// metadata blobs) and is never read back (spec §4.5, §9).
func RenderMarkdown(agentName string, tasks []Task) string {
	byStatus := make(map[TaskStatus][]Task, len(markdownHeadings))
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	for status := range byStatus {
		sortByPriorityThenAge(byStatus[status])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s — Tasks\n\n", agentName)
	for _, h := range markdownHeadings {
		list := byStatus[h.status]
		fmt.Fprintf(&b, "## %s\n\n", h.title)
		if len(list) == 0 {
			b.WriteString("_none_\n\n")
			continue
		}
		for _, t := range list {
			fmt.Fprintf(&b, "- **%s** (%s)", t.Title, t.Priority)
			if t.Progress != nil {
				fmt.Fprintf(&b, " — %d%%", *t.Progress)
			}
			b.WriteString("\n")
			if t.Description != "" {
				fmt.Fprintf(&b, "  %s\n", t.Description)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sortByPriorityThenAge(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
