package gitsync

import (
	"errors"
	"fmt"
	"time"

	goGit "github.com/go-git/go-git/v5"
	goGitConfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var errStopIteration = errors.New("reached base commit")

// CommitInfo describes one upstream commit found while polling.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckForNewCommits fetches the remote refs for the clone at repoDir and
// reports whether the configured branch has moved past the local HEAD.
//
// The working directory is not modified; call Pull to catch up. The clone
// must have been created by this client (same URL and branch).
func (c *Client) CheckForNewCommits(repoDir string) (bool, []CommitInfo, error) {
	repo, err := goGit.PlainOpen(repoDir)
	if err != nil {
		return false, nil, fmt.Errorf("failed to open repository at %s: %w", repoDir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get repository head: %w", err)
	}

	if err := c.fetch(repo); err != nil {
		return false, nil, fmt.Errorf("failed to fetch from remote: %w", err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", c.branch), true)
	if err != nil {
		return false, nil, fmt.Errorf("failed to resolve remote branch %q: %w", c.branch, err)
	}

	if head.Hash() == remoteRef.Hash() {
		return false, nil, nil
	}

	commits, err := commitsBetween(repo, head.Hash(), remoteRef.Hash())
	if err != nil {
		return false, nil, fmt.Errorf("failed to list new commits: %w", err)
	}

	return len(commits) > 0, commits, nil
}

// Pull fast-forwards the clone at repoDir to the fetched remote branch.
func (c *Client) Pull(repoDir string) error {
	repo, err := goGit.PlainOpen(repoDir)
	if err != nil {
		return fmt.Errorf("failed to open repository at %s: %w", repoDir, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get working tree: %w", err)
	}

	authMethod, err := c.authMethod()
	if err != nil {
		return fmt.Errorf("failed to setup authentication: %w", err)
	}

	err = worktree.Pull(&goGit.PullOptions{
		ReferenceName: plumbing.NewBranchReferenceName(c.branch),
		SingleBranch:  true,
		Auth:          authMethod,
	})
	if err != nil && err != goGit.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to pull changes: %w", err)
	}

	return nil
}

func (c *Client) fetch(repo *goGit.Repository) error {
	authMethod, err := c.authMethod()
	if err != nil {
		return err
	}

	err = repo.Fetch(&goGit.FetchOptions{
		RefSpecs: []goGitConfig.RefSpec{"refs/heads/*:refs/remotes/origin/*"},
		Auth:     authMethod,
	})
	if err != nil && err != goGit.NoErrAlreadyUpToDate {
		return err
	}
	return nil
}

// commitsBetween walks the log from toHash back to fromHash, newest first.
func commitsBetween(repo *goGit.Repository, fromHash, toHash plumbing.Hash) ([]CommitInfo, error) {
	commitIter, err := repo.Log(&goGit.LogOptions{From: toHash})
	if err != nil {
		return nil, err
	}
	defer commitIter.Close()

	var commits []CommitInfo
	err = commitIter.ForEach(func(commit *object.Commit) error {
		if commit.Hash == fromHash {
			return errStopIteration
		}
		commits = append(commits, CommitInfo{
			Hash:      commit.Hash.String(),
			Message:   commit.Message,
			Author:    commit.Author.Name,
			Timestamp: commit.Author.When,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, err
	}

	return commits, nil
}
