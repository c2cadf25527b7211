// Package gitsync mirrors the data folders of the external dashboard
// repository into the local working tree and records the result as a
// commit. It is the repository side of the sync-and-publish chain: the
// ArcGIS publisher only ever reads what gitsync wrote.
package gitsync

import (
	"fmt"
	"os"
	"strings"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// DataFolders lists the dashboard folders mirrored into the local tree.
// The publisher derives every upload from the contents of these two.
var DataFolders = []string{"Dendrometer_Data", "TMS_Data"}

// Auth holds authentication credentials for dashboard repository access.
//
// Note: For GitHub and similar services, use personal access tokens instead
// of passwords.
type Auth struct {
	Username string // Username for Git authentication
	Token    string // Personal access token or password for authentication
}

// Client wraps access to one dashboard repository branch.
type Client struct {
	url    string
	branch string
	auth   *Auth
	log    *zap.SugaredLogger
}

// NewClient creates a Client for the given repository URL and branch.
//
// Only HTTP(S) URLs (and local paths) are supported; SSH URLs are rejected
// at clone time. An empty URL or branch is a configuration error.
func NewClient(url, branch string, auth *Auth, log *zap.SugaredLogger) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("dashboard repository URL cannot be empty")
	}
	if branch == "" {
		return nil, fmt.Errorf("dashboard branch cannot be empty")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		url:    url,
		branch: branch,
		auth:   auth,
		log:    log,
	}, nil
}

// Clone performs a single-branch clone of the dashboard repository into
// dir. The caller owns the directory and is responsible for cleanup.
func (c *Client) Clone(dir string) (*goGit.Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	cloneOptions := &goGit.CloneOptions{
		URL:           c.url,
		ReferenceName: plumbing.NewBranchReferenceName(c.branch),
		SingleBranch:  true,
	}

	authMethod, err := c.authMethod()
	if err != nil {
		return nil, fmt.Errorf("failed to setup authentication: %w", err)
	}
	cloneOptions.Auth = authMethod

	repo, err := goGit.PlainClone(dir, false, cloneOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository from %s: %w", c.url, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get repository head: %w", err)
	}
	c.log.Infow("cloned dashboard repository", "dir", dir, "commit", head.Hash().String())

	return repo, nil
}

// authMethod returns the transport auth for the client's URL, or nil when
// no credentials are configured (public repositories, local paths).
func (c *Client) authMethod() (transport.AuthMethod, error) {
	if c.auth == nil {
		return nil, nil
	}

	if strings.HasPrefix(c.url, "git@") || strings.Contains(c.url, "ssh://") {
		return nil, fmt.Errorf("only https based git is supported")
	}

	if c.auth.Username != "" && c.auth.Token != "" {
		return &http.BasicAuth{
			Username: c.auth.Username,
			Password: c.auth.Token,
		}, nil
	}

	return nil, nil
}
