// Package advisories collects a plugin's security advisories: it reads the
// plugin's snapshot for advisory links, fetches each advisory page, extracts
// findings, and writes the merged records as JSONL.
package advisories

import (
	"log"
	"sort"

	"golang.org/x/xerrors"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/jenkins-canary/canary/advisory"
	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/jenkinsurl"
	"github.com/jenkins-canary/canary/utils"
)

const (
	retryTimes  = 3
	concurrency = 3
)

type fetchFunc func(url string) ([]byte, error)

type options struct {
	locator  *dataset.Locator
	pluginID string
	real     bool
	retry    int
	fetch    fetchFunc
}

type option func(*options)

func WithLocator(loc *dataset.Locator) option {
	return func(opts *options) { opts.locator = loc }
}

func WithPluginID(pluginID string) option {
	return func(opts *options) { opts.pluginID = pluginID }
}

// WithReal fetches live advisory pages; without it a small fixed sample set
// is written so the rest of the pipeline can run offline.
func WithReal(real bool) option {
	return func(opts *options) { opts.real = real }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

// WithFetch overrides the page fetcher.
func WithFetch(fetch fetchFunc) option {
	return func(opts *options) { opts.fetch = fetch }
}

type Advisories struct {
	*options
}

func NewAdvisories(opts ...option) Advisories {
	o := &options{
		locator: dataset.NewLocator(""),
		retry:   retryTimes,
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.fetch == nil {
		retry := o.retry
		o.fetch = func(url string) ([]byte, error) {
			return utils.FetchURL(url, "", retry)
		}
	}

	return Advisories{
		options: o,
	}
}

func (a Advisories) Update() error {
	if a.pluginID == "" {
		return xerrors.New("plugin id is required")
	}

	if !a.real {
		return a.writeSample()
	}
	return a.collectReal()
}

func (a Advisories) collectReal() error {
	snap, presence := a.locator.LoadSnapshot(a.pluginID)
	if presence != dataset.Present {
		return xerrors.Errorf("snapshot is missing for %s, collect the snapshot first", a.pluginID)
	}

	warningsByURL := map[string][]advisory.Warning{}
	for _, w := range snap.SecurityWarnings() {
		u := jenkinsurl.Normalize(w.URL)
		if u == "" {
			continue
		}
		warningsByURL[u] = append(warningsByURL[u], advisory.Warning{ID: w.ID, Active: w.Active})
	}

	urlSet := map[string]struct{}{}
	for u := range warningsByURL {
		urlSet[u] = struct{}{}
	}
	for _, u := range snap.AdvisoryURLs {
		if n := jenkinsurl.Normalize(u); n != "" {
			urlSet[n] = struct{}{}
		}
	}

	urls := make([]string, 0, len(urlSet))
	for u := range urlSet {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	log.Printf("Fetching %d advisory pages for %s...\n", len(urls), a.pluginID)
	bodies := a.fetchAll(urls)

	var records []advisory.Record
	for i, u := range urls {
		if bodies[i] == nil {
			continue
		}
		records = append(records, advisory.BuildRecord(a.pluginID, u, string(bodies[i]), warningsByURL[u]))
	}

	return a.write(advisory.MergeAll(records), "real")
}

// fetchAll fetches the advisory pages concurrently, preserving input order.
// A dead advisory link yields a nil body instead of killing the collection.
func (a Advisories) fetchAll(urls []string) [][]byte {
	bodies := make([][]byte, len(urls))
	bar := pb.StartNew(len(urls))
	done := make(chan struct{}, len(urls))
	tasks := utils.GenWorkers(concurrency, 0)
	for i, u := range urls {
		tasks <- func() {
			defer func() { done <- struct{}{} }()
			body, err := a.fetch(u)
			if err != nil {
				log.Printf("skipping advisory page %s: %v\n", u, err)
				return
			}
			bodies[i] = body
		}
	}
	for range urls {
		<-done
		bar.Increment()
	}
	bar.Finish()
	return bodies
}

// writeSample emits fixed records so the pipeline runs end-to-end offline.
func (a Advisories) writeSample() error {
	records := []advisory.Record{
		{
			Source:             advisory.SourceJenkins,
			Type:               advisory.TypeAdvisory,
			AdvisoryID:         "2025-01-10",
			PublishedDate:      "2025-01-10",
			PluginID:           "workflow-cps",
			Title:              "Sample advisory record",
			URL:                "https://www.jenkins.io/security/advisory/2025-01-10/",
			SecurityWarningIDs: []string{},
		},
		{
			Source:             advisory.SourceJenkins,
			Type:               advisory.TypeAdvisory,
			AdvisoryID:         "2016-07-27",
			PublishedDate:      "2016-07-27",
			PluginID:           "cucumber-reports",
			Title:              "Cucumber Reports Plugin advisory (pilot sample)",
			URL:                "https://www.jenkins.io/security/advisory/2016-07-27/",
			SecurityWarningIDs: []string{},
		},
	}

	var matched []advisory.Record
	for _, rec := range records {
		if rec.PluginID == a.pluginID {
			matched = append(matched, rec)
		}
	}
	return a.write(advisory.MergeAll(matched), "sample")
}

func (a Advisories) write(records []advisory.Record, variant string) error {
	lines := make([]interface{}, 0, len(records))
	for _, rec := range records {
		lines = append(lines, rec)
	}
	fs := utils.NewFs(a.locator.Fs())
	path := a.locator.AdvisoriesOutPath(a.pluginID, variant)
	if err := fs.WriteJSONLinesAtomic(path, lines); err != nil {
		return xerrors.Errorf("failed to write advisories: %w", err)
	}
	return nil
}
