package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

func taskPath(root, taskID string) string {
	return filepath.Join(root, "tasks", taskID+".json")
}

func loadTask(root, taskID string) (*Task, error) {
	path := taskPath(root, taskID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, notFound("task", taskID)
	}
	if err != nil {
		return nil, ioError("task", taskID, "read task file", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, corruption("task", taskID, err)
	}
	return &t, nil
}

func writeTask(root string, t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return ioError("task", t.ID, "encode task", err)
	}
	return atomicWrite(taskPath(root, t.ID), data)
}

func deleteTask(root, taskID string) error {
	if err := os.Remove(taskPath(root, taskID)); err != nil && !os.IsNotExist(err) {
		return ioError("task", taskID, "delete task file", err)
	}
	return nil
}

// listTaskFiles returns every task id found in the tasks/ directory,
// used to rebuild in-memory indexes at Open.
func listTaskFiles(root string) ([]string, error) {
	dir := filepath.Join(root, "tasks")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError("task", dir, "list tasks dir", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
