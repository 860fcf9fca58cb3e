package source

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
	"git.home.luguber.info/inful/ghbackup/internal/retry"
	"git.home.luguber.info/inful/ghbackup/internal/snapshot"
)

const (
	perPage = 100
	// maxRateLimitWait caps how long a single primary rate-limit wait may block.
	maxRateLimitWait = 15 * time.Minute
)

// GitHubOptions configures the GitHub lister.
type GitHubOptions struct {
	// APIURL is the REST base URL, e.g. https://ghe.example.com/api/v3/. Empty means api.github.com.
	APIURL      string
	Token       string
	CloneViaSSH bool
	HTTPClient  *http.Client
	Retry       *retry.Runner
}

// GitHub lists organizations, repositories and branches through the REST API.
type GitHub struct {
	client *gh.Client
	ssh    bool
	retry  *retry.Runner
}

// NewGitHub creates a GitHub lister.
func NewGitHub(opts GitHubOptions) (*GitHub, error) {
	client := gh.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.APIURL != "" {
		base := opts.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, errors.ConfigurationError("invalid github.apiURL").WithCause(err).Build()
		}
		client.BaseURL = u
	}

	runner := opts.Retry
	if runner == nil {
		runner = retry.NewRunner(retry.DefaultPolicy())
	}
	scoped := *runner
	scoped.Permanent = permanentAPIError
	scoped.Scale = rateLimitDelay

	return &GitHub{client: client, ssh: opts.CloneViaSSH, retry: &scoped}, nil
}

// ListOrganizations returns the organizations the authenticated user belongs to.
func (g *GitHub) ListOrganizations(ctx context.Context) ([]string, error) {
	var names []string
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		var (
			orgs []*gh.Organization
			resp *gh.Response
		)
		err := g.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			orgs, resp, err = g.client.Organizations.List(ctx, "", opts)
			return err
		})
		if err != nil {
			return nil, forgeError(err, "list organizations")
		}
		for _, o := range orgs {
			names = append(names, o.GetLogin())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// ListRepositories returns the repositories of org without their branches.
func (g *GitHub) ListRepositories(ctx context.Context, org string) ([]snapshot.Repository, error) {
	var repos []snapshot.Repository
	opts := &gh.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	for {
		var (
			page []*gh.Repository
			resp *gh.Response
		)
		err := g.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			page, resp, err = g.client.Repositories.ListByOrg(ctx, org, opts)
			return err
		})
		if err != nil {
			return nil, forgeError(err, "list repositories").WithContext("organization", org)
		}
		for _, r := range page {
			cloneURL := r.GetCloneURL()
			if g.ssh {
				cloneURL = r.GetSSHURL()
			}
			repos = append(repos, snapshot.Repository{
				Name:          r.GetName(),
				DefaultBranch: r.GetDefaultBranch(),
				CloneURL:      cloneURL,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

// ListBranches returns every branch head of org/repo.
func (g *GitHub) ListBranches(ctx context.Context, org, repo string) ([]snapshot.Branch, error) {
	var branches []snapshot.Branch
	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		var (
			page []*gh.Branch
			resp *gh.Response
		)
		err := g.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			page, resp, err = g.client.Repositories.ListBranches(ctx, org, repo, opts)
			return err
		})
		if err != nil {
			if isEmptyRepository(err) {
				return nil, nil
			}
			return nil, forgeError(err, "list branches").
				WithContext("organization", org).
				WithContext("repository", repo)
		}
		for _, b := range page {
			branches = append(branches, snapshot.Branch{
				Name:       b.GetName(),
				HeadCommit: b.GetCommit().GetSHA(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return branches, nil
}

func forgeError(err error, op string) *errors.ClassifiedError {
	var rl *gh.RateLimitError
	if stderrors.As(err, &rl) {
		return errors.ForgeError(op + ": rate limited").WithCause(err).RateLimit().Build()
	}
	var er *gh.ErrorResponse
	if stderrors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.AuthError(op).WithCause(err).Build()
		}
	}
	return errors.ForgeError(op).WithCause(err).Build()
}

// permanentAPIError reports client errors that a retry cannot fix.
func permanentAPIError(err error) bool {
	var rl *gh.RateLimitError
	var abuse *gh.AbuseRateLimitError
	if stderrors.As(err, &rl) || stderrors.As(err, &abuse) {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var er *gh.ErrorResponse
	if stderrors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		return code >= 400 && code < 500 && code != http.StatusTooManyRequests
	}
	return false
}

// rateLimitDelay waits for the limit to reset instead of the backoff delay.
func rateLimitDelay(err error, d time.Duration) time.Duration {
	var rl *gh.RateLimitError
	if stderrors.As(err, &rl) {
		wait := time.Until(rl.Rate.Reset.Time) + time.Second
		if wait > maxRateLimitWait {
			wait = maxRateLimitWait
		}
		if wait > d {
			return wait
		}
		return d
	}
	var abuse *gh.AbuseRateLimitError
	if stderrors.As(err, &abuse) && abuse.RetryAfter != nil && *abuse.RetryAfter > d {
		return *abuse.RetryAfter
	}
	return d
}

// isEmptyRepository matches the 409 GitHub returns for repositories without commits.
func isEmptyRepository(err error) bool {
	var er *gh.ErrorResponse
	return stderrors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusConflict
}
