package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// agentsDoc is the on-disk shape of agents.toml: a single document holding
// every agent as one array-of-tables (spec §6).
type agentsDoc struct {
	Agents []Agent `toml:"agents"`
}

func agentsTomlPath(root string) string {
	return filepath.Join(root, "agents.toml")
}

// loadAgentsToml reads agents.toml, returning an empty set if the file does
// not yet exist (fresh registry).
func loadAgentsToml(root string) ([]Agent, error) {
	path := agentsTomlPath(root)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError("agent", path, "read agents.toml", err)
	}
	var doc agentsDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, corruption("agent", path, err)
	}
	return doc.Agents, nil
}

// writeAgentsToml atomically rewrites the entire agents.toml document.
func writeAgentsToml(root string, agents []Agent) error {
	doc := agentsDoc{Agents: agents}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal agents.toml: %w", err)
	}
	return atomicWrite(agentsTomlPath(root), data)
}
