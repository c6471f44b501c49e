// Package codehost abstracts the public code-hosting provider behind a
// narrow fetch interface. The production implementation talks to GitHub;
// evaluation logic never imports the SDK directly.
package codehost

import (
	"context"
	"time"
)

// Profile is the public account profile of an evaluation target.
type Profile struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url"`
	Location    string `json:"location"`
	HTMLURL     string `json:"html_url"`
	PublicRepos int    `json:"public_repos"`
}

// Repo is one repository as reported by the host.
type Repo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Fork        bool      `json:"fork"`
	Archived    bool      `json:"archived"`
	Disabled    bool      `json:"disabled"`
	Size        int       `json:"size"` // host-reported size units (KB)
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

// TreeEntry is one blob in a repository's file tree.
type TreeEntry struct {
	Path string
	Size int
}

// Commit is one commit attributed to an author.
type Commit struct {
	AuthorLogin string
	AuthoredAt  time.Time
	Message     string
}

// Client is the CodeHost capability port. Implementations translate
// host errors into the apperr taxonomy: not-found, rate-limit (with a
// retry hint), and unauthorized (reclassified internal).
type Client interface {
	GetUser(ctx context.Context, username string) (*Profile, error)
	// ListRepos returns up to 300 repositories, paginating internally.
	ListRepos(ctx context.Context, username string) ([]Repo, error)
	// ListFiles returns the recursive file tree of the default branch.
	ListFiles(ctx context.Context, owner, repo string) ([]TreeEntry, error)
	// GetFile returns decoded file content.
	GetFile(ctx context.Context, owner, repo, path string) (string, error)
	// ListCommits returns commits by author since the given time.
	ListCommits(ctx context.Context, owner, repo string, since time.Time, author string) ([]Commit, error)
}
