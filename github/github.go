// Package github enriches a plugin with repository metadata from the GitHub
// GraphQL API, keyed off the repo URL stored in the plugin's snapshot.
package github

import (
	"context"
	"log"
	"math"
	"net/url"
	"strings"
	"time"

	githubql "github.com/shurcooL/githubv4"
	"github.com/shurcooL/graphql"
	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/utils"
)

const retryTimes = 5

var wait = func(i int) time.Duration {
	sleep := math.Pow(float64(i), 2) + float64(utils.RandInt()%10)
	return time.Duration(sleep) * time.Second
}

type GithubClient interface {
	Query(ctx context.Context, q interface{}, variables map[string]interface{}) error
}

// RepositoryQuery mirrors the repository fields the risk features need.
type RepositoryQuery struct {
	Repository struct {
		NameWithOwner githubql.String
		Description   githubql.String
		IsArchived    githubql.Boolean
		PushedAt      githubql.DateTime
		Stargazers    struct {
			TotalCount githubql.Int
		}
		ForkCount githubql.Int
		Issues    struct {
			TotalCount githubql.Int
		} `graphql:"issues(states: OPEN)"`
		PullRequests struct {
			TotalCount githubql.Int
		} `graphql:"pullRequests(states: OPEN)"`
		DefaultBranchRef struct {
			Name   githubql.String
			Target struct {
				Commit struct {
					History struct {
						TotalCount githubql.Int
					}
				} `graphql:"... on Commit"`
			}
		}
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// Repo is the stored artifact at github/<id>.repo.json.
type Repo struct {
	PluginID      string `json:"plugin_id"`
	CollectedAt   string `json:"collected_at"`
	RepoURL       string `json:"repo_url"`
	NameWithOwner string `json:"name_with_owner"`
	Description   string `json:"description,omitempty"`
	Archived      bool   `json:"archived"`
	Stars         int    `json:"stars"`
	Forks         int    `json:"forks"`
	OpenIssues    int    `json:"open_issues"`
	OpenPRs       int    `json:"open_prs"`
	DefaultBranch string `json:"default_branch,omitempty"`
	CommitCount   int    `json:"commit_count"`
	PushedAt      string `json:"pushed_at,omitempty"`
}

type Config struct {
	locator *dataset.Locator
	retry   int
	client  GithubClient
}

func NewConfig(client GithubClient, opts ...Option) Config {
	c := Config{
		locator: dataset.NewLocator(""),
		retry:   retryTimes,
		client:  client,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type Option func(*Config)

func WithLocator(loc *dataset.Locator) Option {
	return func(c *Config) { c.locator = loc }
}

func WithRetry(retry int) Option {
	return func(c *Config) { c.retry = retry }
}

func (c Config) Update(pluginID string) error {
	snap, presence := c.locator.LoadSnapshot(pluginID)
	if presence != dataset.Present {
		return xerrors.Errorf("snapshot is missing for %s, collect the snapshot first", pluginID)
	}

	owner, name, ok := ParseOwnerRepo(snap.SCMURL())
	if !ok {
		return xerrors.Errorf("no usable GitHub repo URL for %s: %q", pluginID, snap.SCMURL())
	}

	log.Printf("Fetching GitHub repository %s/%s...\n", owner, name)
	var q RepositoryQuery
	variables := map[string]interface{}{
		"owner": graphql.String(owner),
		"name":  graphql.String(name),
	}

	var err error
	for i := 0; i <= c.retry; i++ {
		if i > 0 {
			log.Printf("retry after %s\n", wait(i))
			time.Sleep(wait(i))
		}
		if err = c.client.Query(context.Background(), &q, variables); err == nil {
			break
		}
	}
	if err != nil {
		return xerrors.Errorf("failed to query the GitHub API: %w", err)
	}

	repo := Repo{
		PluginID:      pluginID,
		CollectedAt:   time.Now().UTC().Format(time.RFC3339),
		RepoURL:       snap.SCMURL(),
		NameWithOwner: string(q.Repository.NameWithOwner),
		Description:   string(q.Repository.Description),
		Archived:      bool(q.Repository.IsArchived),
		Stars:         int(q.Repository.Stargazers.TotalCount),
		Forks:         int(q.Repository.ForkCount),
		OpenIssues:    int(q.Repository.Issues.TotalCount),
		OpenPRs:       int(q.Repository.PullRequests.TotalCount),
		DefaultBranch: string(q.Repository.DefaultBranchRef.Name),
		CommitCount:   int(q.Repository.DefaultBranchRef.Target.Commit.History.TotalCount),
	}
	if !q.Repository.PushedAt.IsZero() {
		repo.PushedAt = q.Repository.PushedAt.UTC().Format(time.RFC3339)
	}

	fs := utils.NewFs(c.locator.Fs())
	if err = fs.WriteJSONAtomic(c.locator.GithubRepoPath(pluginID), repo); err != nil {
		return xerrors.Errorf("failed to write the repo metadata: %w", err)
	}
	return nil
}

// ParseOwnerRepo accepts https://github.com/<owner>/<repo> with an optional
// .git suffix.
func ParseOwnerRepo(repoURL string) (string, string, bool) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false
	}
	if !strings.EqualFold(u.Host, "github.com") {
		return "", "", false
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
