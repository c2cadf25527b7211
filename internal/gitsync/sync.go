package gitsync

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoChanges is returned when the mirrored folders are identical to what
// the local repository already carries, so there is nothing to commit.
var ErrNoChanges = errors.New("dashboard data unchanged, nothing to commit")

// CommitMessage is used for every data sync commit.
const CommitMessage = "Update dashboard data folders"

// Sync clones the dashboard repository, replaces the local copies of the
// data folders with the upstream ones, and commits the result in localDir.
//
// Returns the new commit hash, or ErrNoChanges when the folder contents
// were already identical. The clone happens in a throwaway temp directory
// which is always cleaned up.
func (c *Client) Sync(localDir string, folders []string) (string, error) {
	tempDir, err := os.MkdirTemp("", "agosync-clone-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if _, err := c.Clone(tempDir); err != nil {
		return "", err
	}

	if err := SyncFolders(tempDir, localDir, folders); err != nil {
		return "", err
	}

	hash, err := c.CommitAndPush(localDir, folders)
	if err != nil {
		return "", err
	}

	return hash, nil
}

// SyncFolders replaces each named folder under dstRoot with the version
// found under srcRoot. Destination folders are removed wholesale first, so
// files deleted upstream disappear locally too.
//
// A folder missing from srcRoot is a fatal error: the dashboard repository
// is expected to always carry both data folders.
func SyncFolders(srcRoot, dstRoot string, folders []string) error {
	for _, folder := range folders {
		src := filepath.Join(srcRoot, folder)

		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("data folder %q not found in dashboard repository: %w", folder, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data folder %q is not a directory in dashboard repository", folder)
		}

		dst := filepath.Join(dstRoot, folder)
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to clear local folder %q: %w", folder, err)
		}
		if err := copyDir(src, dst); err != nil {
			return fmt.Errorf("failed to copy folder %q: %w", folder, err)
		}
	}

	return nil
}

// CommitAndPush stages the named folders in the repository at repoDir,
// commits them when the worktree is dirty, and pushes to origin.
//
// Returns ErrNoChanges when staging leaves the worktree clean.
func (c *Client) CommitAndPush(repoDir string, folders []string) (string, error) {
	repo, err := goGit.PlainOpen(repoDir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", repoDir, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get working tree: %w", err)
	}

	for _, folder := range folders {
		// Add stages deletions as well when given a directory path.
		if _, err := worktree.Add(folder); err != nil {
			return "", fmt.Errorf("failed to stage folder %q: %w", folder, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNoChanges
	}

	commit, err := worktree.Commit(CommitMessage, &goGit.CommitOptions{
		Author: &object.Signature{
			Name:  "agosync",
			Email: "agosync@users.noreply.github.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit dashboard data: %w", err)
	}

	authMethod, err := c.authMethod()
	if err != nil {
		return "", fmt.Errorf("failed to setup authentication: %w", err)
	}

	err = repo.Push(&goGit.PushOptions{Auth: authMethod})
	if err != nil && err != goGit.NoErrAlreadyUpToDate {
		return "", fmt.Errorf("failed to push data commit: %w", err)
	}

	c.log.Infow("committed dashboard data", "commit", commit.String())
	return commit.String(), nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
