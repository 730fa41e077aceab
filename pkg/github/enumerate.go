package github

import (
	"context"

	gh "github.com/google/go-github/v53/github"
)

// ListOrgRepositories enumerates every repository of an organization
// visible to the invoking credentials, following pagination to completion.
// The result is duplicate-free and in the stable order the API returns.
func (c *Client) ListOrgRepositories(ctx context.Context, org string) ([]RepositoryRef, error) {
	opts := &gh.RepositoryListByOrgOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var refs []RepositoryRef
	seen := make(map[string]bool)

	for {
		var (
			repos []*gh.Repository
			resp  *gh.Response
		)
		err := c.retrier.Do(ctx, func() error {
			var opErr error
			repos, resp, opErr = c.repos.ListByOrg(ctx, org, opts)
			return classify("organization "+org, opErr)
		})
		if err != nil {
			return nil, err
		}

		for _, repo := range repos {
			ref := RepositoryRef{
				Owner:         repo.GetOwner().GetLogin(),
				Name:          repo.GetName(),
				DefaultBranch: repo.GetDefaultBranch(),
			}
			if ref.Owner == "" {
				ref.Owner = org
			}
			if seen[ref.String()] {
				continue
			}
			seen[ref.String()] = true
			refs = append(refs, ref)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return refs, nil
}

// GetRepository resolves a single owner/name pair to a RepositoryRef.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (RepositoryRef, error) {
	var repo *gh.Repository
	err := c.retrier.Do(ctx, func() error {
		var opErr error
		repo, _, opErr = c.repos.Get(ctx, owner, name)
		return classify("repository "+owner+"/"+name, opErr)
	})
	if err != nil {
		return RepositoryRef{}, err
	}

	return RepositoryRef{
		Owner:         owner,
		Name:          name,
		DefaultBranch: repo.GetDefaultBranch(),
	}, nil
}
