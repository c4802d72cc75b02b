package registry

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// gitStore wraps the registry directory's git working tree. Every mutation
// to the registry produces exactly one commit (spec §3, §4.1); the working
// tree is never left dirty once a call returns.
type gitStore struct {
	repo *git.Repository
	wt   *git.Worktree
}

var commitAuthor = &object.Signature{
	Name:  "nox",
	Email: "nox@localhost",
}

func openGitStore(root string) (*gitStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, fmt.Errorf("init registry git repo: %w", err)
		}
		if werr := writeGitignore(root); werr != nil {
			return nil, werr
		}
	} else if err != nil {
		return nil, fmt.Errorf("open registry git repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("registry worktree: %w", err)
	}

	gs := &gitStore{repo: repo, wt: wt}

	dirty, err := gs.isDirty()
	if err != nil {
		return nil, fmt.Errorf("check registry tree status: %w", err)
	}
	if dirty {
		// A prior process crashed mid-mutation. Commit the leftovers under a
		// "recovered" message rather than discarding in-progress work
		// (spec §4.1 conflict policy); invariant re-checking happens above
		// this layer, in Store.Open.
		if _, err := gs.commitAll("recovered registry state"); err != nil {
			return nil, fmt.Errorf("commit recovered state: %w", err)
		}
	}

	return gs, nil
}

func writeGitignore(root string) error {
	path := root + "/.gitignore"
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("*.tmp\n.lock\n"), 0o644)
}

func (gs *gitStore) isDirty() (bool, error) {
	status, err := gs.wt.Status()
	if err != nil {
		return false, err
	}
	return !status.IsClean(), nil
}

// commit stages every file under the registry root and commits with the
// given message. On failure it resets the tree to HEAD so the working tree
// is never left dirty (spec §4.1 atomicity protocol).
func (gs *gitStore) commit(message string) (string, error) {
	hash, err := gs.commitAll(message)
	if err != nil {
		_ = gs.wt.Reset(&git.ResetOptions{Mode: git.HardReset})
		return "", err
	}
	return hash, nil
}

func (gs *gitStore) commitAll(message string) (string, error) {
	if err := gs.wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}
	status, err := gs.wt.Status()
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}
	commit, err := gs.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthor.Name,
			Email: commitAuthor.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	return commit.String(), nil
}

// resetHard discards uncommitted changes, restoring the tree to HEAD.
func (gs *gitStore) resetHard() error {
	return gs.wt.Reset(&git.ResetOptions{Mode: git.HardReset})
}
