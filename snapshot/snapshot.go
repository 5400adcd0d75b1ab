// Package snapshot collects one plugin's metadata from the plugins API into
// plugins/<id>.snapshot.json. The raw API payload is stored as-is under
// plugin_api; the dataset readers pick fields out of it tolerantly.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/jenkinsurl"
	"github.com/jenkins-canary/canary/utils"
)

const (
	pluginAPIURL = "https://plugins.jenkins.io/api/plugin/%s"
	retryTimes   = 3
)

// Pilot curation: plugins whose repo and advisory linkage we know up front,
// used when collecting without network access.
var (
	curatedRepoURLs = map[string]string{
		"cucumber-reports": "https://github.com/jenkinsci/cucumber-reports-plugin",
	}
	curatedAdvisoryURLs = map[string][]string{
		"cucumber-reports": {"https://www.jenkins.io/security/advisory/2016-07-27/"},
	}
)

// Record is the stored snapshot artifact.
type Record struct {
	PluginID     string          `json:"plugin_id"`
	CollectedAt  string          `json:"collected_at"`
	SiteURL      string          `json:"plugin_site_url"`
	RepoURL      string          `json:"repo_url,omitempty"`
	AdvisoryURLs []string        `json:"security_advisory_urls,omitempty"`
	PluginAPI    json.RawMessage `json:"plugin_api,omitempty"`
}

type options struct {
	url      string
	locator  *dataset.Locator
	pluginID string
	repoURL  string
	real     bool
	retry    int
}

type option func(*options)

// WithURL overrides the plugin API URL format; it must contain one %s for
// the plugin id.
func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithLocator(loc *dataset.Locator) option {
	return func(opts *options) { opts.locator = loc }
}

func WithPluginID(pluginID string) option {
	return func(opts *options) { opts.pluginID = pluginID }
}

// WithRepoURL curates the source repository URL when the plugins API does
// not carry a usable one.
func WithRepoURL(repoURL string) option {
	return func(opts *options) { opts.repoURL = repoURL }
}

// WithReal fetches the live plugins API; without it the snapshot carries
// only the curated fields.
func WithReal(real bool) option {
	return func(opts *options) { opts.real = real }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

type Snapshot struct {
	*options
}

func NewSnapshot(opts ...option) Snapshot {
	o := &options{
		url:     pluginAPIURL,
		locator: dataset.NewLocator(""),
		retry:   retryTimes,
	}

	for _, opt := range opts {
		opt(o)
	}

	return Snapshot{
		options: o,
	}
}

func (s Snapshot) Update() error {
	if s.pluginID == "" {
		return xerrors.New("plugin id is required")
	}

	rec := Record{
		PluginID:    s.pluginID,
		CollectedAt: time.Now().UTC().Format(time.RFC3339),
		SiteURL:     fmt.Sprintf("https://plugins.jenkins.io/%s/", s.pluginID),
		RepoURL:     s.repoURL,
	}
	if rec.RepoURL == "" {
		rec.RepoURL = curatedRepoURLs[s.pluginID]
	}
	for _, u := range curatedAdvisoryURLs[s.pluginID] {
		rec.AdvisoryURLs = append(rec.AdvisoryURLs, jenkinsurl.Normalize(u))
	}

	if s.real {
		log.Printf("Fetching the plugins API for %s...\n", s.pluginID)
		body, err := utils.FetchURL(fmt.Sprintf(s.url, s.pluginID), "", s.retry)
		if err != nil {
			return xerrors.Errorf("failed to fetch the plugins API: %w", err)
		}
		if !json.Valid(body) {
			return xerrors.Errorf("invalid JSON from the plugins API for %s", s.pluginID)
		}
		rec.PluginAPI = body
	}

	fs := utils.NewFs(s.locator.Fs())
	if err := fs.WriteJSONAtomic(s.locator.SnapshotPath(s.pluginID), rec); err != nil {
		return xerrors.Errorf("failed to write the snapshot: %w", err)
	}
	return nil
}
