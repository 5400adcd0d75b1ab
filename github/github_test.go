package github

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	githubql "github.com/shurcooL/githubv4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
)

type MockClient struct {
	Response   RepositoryQuery
	Error      error
	ErrorCount int
	calls      int
}

func (mc *MockClient) Query(ctx context.Context, q interface{}, variables map[string]interface{}) error {
	mc.calls++
	if mc.Error != nil && mc.calls <= mc.ErrorCount {
		return mc.Error
	}
	*q.(*RepositoryQuery) = mc.Response
	return nil
}

func testLocator(t *testing.T, snapshotJSON string) *dataset.Locator {
	t.Helper()
	loc := dataset.NewLocator("/data", dataset.WithFs(afero.NewMemMapFs()))
	if snapshotJSON != "" {
		require.NoError(t, afero.WriteFile(loc.Fs(), loc.SnapshotPath("git-client"), []byte(snapshotJSON), 0644))
	}
	return loc
}

func testResponse() RepositoryQuery {
	var q RepositoryQuery
	q.Repository.NameWithOwner = "jenkinsci/git-client-plugin"
	q.Repository.Stargazers.TotalCount = 120
	q.Repository.ForkCount = 30
	q.Repository.Issues.TotalCount = 7
	q.Repository.PullRequests.TotalCount = 2
	q.Repository.DefaultBranchRef.Name = "master"
	q.Repository.DefaultBranchRef.Target.Commit.History.TotalCount = 2100
	q.Repository.PushedAt = githubql.DateTime{Time: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	return q
}

func TestConfig_Update(t *testing.T) {
	oldWait := wait
	wait = func(i int) time.Duration { return 0 }
	defer func() { wait = oldWait }()

	snapshotJSON := `{"plugin_id":"git-client","repo_url":"https://github.com/jenkinsci/git-client-plugin.git"}`

	t.Run("happy path", func(t *testing.T) {
		loc := testLocator(t, snapshotJSON)
		c := NewConfig(&MockClient{Response: testResponse()}, WithLocator(loc), WithRetry(0))
		require.NoError(t, c.Update("git-client"))

		b, err := afero.ReadFile(loc.Fs(), loc.GithubRepoPath("git-client"))
		require.NoError(t, err)

		var repo Repo
		require.NoError(t, json.Unmarshal(b, &repo))
		assert.Equal(t, "jenkinsci/git-client-plugin", repo.NameWithOwner)
		assert.Equal(t, 120, repo.Stars)
		assert.Equal(t, 2100, repo.CommitCount)
		assert.Equal(t, "2026-02-01T12:00:00Z", repo.PushedAt)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		loc := testLocator(t, snapshotJSON)
		mc := &MockClient{Response: testResponse(), Error: xerrors.New("rate limited"), ErrorCount: 2}
		c := NewConfig(mc, WithLocator(loc), WithRetry(3))
		require.NoError(t, c.Update("git-client"))
		assert.Equal(t, 3, mc.calls)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		loc := testLocator(t, snapshotJSON)
		mc := &MockClient{Error: xerrors.New("rate limited"), ErrorCount: 10}
		c := NewConfig(mc, WithLocator(loc), WithRetry(1))
		err := c.Update("git-client")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})

	t.Run("missing snapshot", func(t *testing.T) {
		loc := testLocator(t, "")
		c := NewConfig(&MockClient{}, WithLocator(loc))
		err := c.Update("git-client")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "snapshot is missing")
	})

	t.Run("non-github repo url", func(t *testing.T) {
		loc := testLocator(t, `{"plugin_id":"git-client","repo_url":"https://gitlab.com/x/y"}`)
		c := NewConfig(&MockClient{}, WithLocator(loc))
		err := c.Update("git-client")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no usable GitHub repo URL")
	})
}

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		url       string
		wantOwner string
		wantRepo  string
		wantOK    bool
	}{
		{"https://github.com/jenkinsci/mailer-plugin", "jenkinsci", "mailer-plugin", true},
		{"https://github.com/jenkinsci/mailer-plugin.git", "jenkinsci", "mailer-plugin", true},
		{"http://GitHub.com/a/b/extra", "a", "b", true},
		{"https://github.com/onlyowner", "", "", false},
		{"https://gitlab.com/a/b", "", "", false},
		{"git@github.com:a/b.git", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, repo, ok := ParseOwnerRepo(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}
