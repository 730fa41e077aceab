package github

import (
	"context"

	gh "github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

// ReposService is the slice of the GitHub repositories API the scanner
// uses. It is an interface so tests can inject a fake.
type ReposService interface {
	ListByOrg(ctx context.Context, org string, opts *gh.RepositoryListByOrgOptions) ([]*gh.Repository, *gh.Response, error)
	Get(ctx context.Context, owner, repo string) (*gh.Repository, *gh.Response, error)
	GetContents(ctx context.Context, owner, repo, path string, opts *gh.RepositoryContentGetOptions) (*gh.RepositoryContent, []*gh.RepositoryContent, *gh.Response, error)
}

// RepositoryRef identifies one target repository. It is created during
// enumeration and read-only afterward.
type RepositoryRef struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
}

func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Name
}

// Client wraps the GitHub API with the scanner's error taxonomy and
// rate-limit retry behavior.
type Client struct {
	repos   ReposService
	retrier *Retrier
}

// NewClient creates a GitHub API client. With an empty token the client is
// unauthenticated and subject to the anonymous rate limit. Zero
// retryAttempts selects the default retry budget.
func NewClient(ctx context.Context, token string, retryAttempts int) *Client {
	var client *gh.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = gh.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = gh.NewClient(nil)
	}

	return &Client{
		repos:   client.Repositories,
		retrier: NewRetrier(retryAttempts, 0),
	}
}
