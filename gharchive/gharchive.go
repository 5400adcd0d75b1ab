// Package gharchive generates the BigQuery standardSQL that aggregates GH
// Archive activity for Jenkins plugin repositories. Only the SQL text is
// produced here; running it against a warehouse is the operator's concern.
package gharchive

import (
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/utils"
)

const dayFormat = "20060102"

const rawSelectTemplate = `SELECT
  repo.name AS repo,
  actor.login AS actor_login,
  type AS event_type,
  TIMESTAMP(created_at) AS event_ts,
  DATE(TIMESTAMP(created_at)) AS event_date,
  JSON_EXTRACT_SCALAR(payload, '$.action') AS action,
  JSON_EXTRACT_SCALAR(payload, '$.pull_request.merged') AS pr_merged,
  TIMESTAMP(JSON_EXTRACT_SCALAR(payload, '$.pull_request.created_at')) AS pr_created_ts,
  TIMESTAMP(JSON_EXTRACT_SCALAR(payload, '$.pull_request.closed_at')) AS pr_closed_ts
FROM ` + "`githubarchive.day.%s`" + ` %s
WHERE STARTS_WITH(repo.name, 'jenkinsci/')
  AND ENDS_WITH(repo.name, '-plugin')`

const aggregateTemplate = `--standardSQL
WITH raw AS (
%s
)
SELECT
  raw.repo AS repo,
  '%s' AS window_start_yyyymmdd,
  '%s' AS window_end_yyyymmdd,
  COUNT(*) AS events_total,
  COUNT(DISTINCT raw.actor_login) AS actors_unique,
  COUNTIF(raw.event_type = 'PushEvent') AS pushes,
  COUNT(DISTINCT IF(raw.event_type = 'PushEvent', raw.actor_login, NULL)) AS committers_unique,
  COUNT(DISTINCT IF(raw.event_type = 'PushEvent', raw.event_date, NULL)) AS push_days_active,
  COUNTIF(raw.event_type = 'PullRequestEvent' AND raw.action = 'opened') AS prs_opened,
  COUNTIF(raw.event_type = 'PullRequestEvent' AND raw.action = 'closed') AS prs_closed,
  COUNTIF(
    raw.event_type = 'PullRequestEvent' AND raw.action = 'closed' AND raw.pr_merged = 'true'
  ) AS prs_merged
FROM raw
GROUP BY repo
ORDER BY events_total DESC`

type options struct {
	locator         *dataset.Locator
	start           string
	end             string
	samplePercent   float64
	availableTables []string
}

type Option func(*options)

func WithLocator(loc *dataset.Locator) Option {
	return func(opts *options) { opts.locator = loc }
}

// WithRange sets the inclusive day range, both YYYYMMDD.
func WithRange(start, end string) Option {
	return func(opts *options) {
		opts.start = start
		opts.end = end
	}
}

// WithSamplePercent enables TABLESAMPLE on every per-day select; 100 means
// no sampling.
func WithSamplePercent(percent float64) Option {
	return func(opts *options) { opts.samplePercent = percent }
}

// WithAvailableTables restricts generation to daily tables known to exist;
// GH Archive occasionally misses a day.
func WithAvailableTables(tables []string) Option {
	return func(opts *options) { opts.availableTables = tables }
}

type GHArchive struct {
	*options
}

func NewGHArchive(opts ...Option) GHArchive {
	end := time.Now().UTC().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -6)

	o := &options{
		locator:       dataset.NewLocator(""),
		start:         start.Format(dayFormat),
		end:           end.Format(dayFormat),
		samplePercent: 100,
	}

	for _, opt := range opts {
		opt(o)
	}

	return GHArchive{
		options: o,
	}
}

func (g GHArchive) Update() error {
	query, err := g.BuildQuery()
	if err != nil {
		return err
	}

	path := g.locator.GHArchiveQueryPath()
	log.Printf("Writing the GH Archive query to %s\n", path)
	fs := utils.NewFs(g.locator.Fs())
	if err = fs.WriteBytesAtomic(path, []byte(query)); err != nil {
		return xerrors.Errorf("failed to write the query: %w", err)
	}
	return nil
}

// BuildQuery returns one standardSQL statement: a UNION ALL of per-day
// selects wrapped in an aggregation over the whole window.
func (g GHArchive) BuildQuery() (string, error) {
	startDate, err := time.Parse(dayFormat, g.start)
	if err != nil {
		return "", xerrors.Errorf("invalid start date %q, want YYYYMMDD: %w", g.start, err)
	}
	endDate, err := time.Parse(dayFormat, g.end)
	if err != nil {
		return "", xerrors.Errorf("invalid end date %q, want YYYYMMDD: %w", g.end, err)
	}
	if endDate.Before(startDate) {
		return "", xerrors.New("end date must not be before start date")
	}
	if g.samplePercent <= 0 || g.samplePercent > 100 {
		return "", xerrors.New("sample percent must be > 0 and <= 100")
	}

	tablesample := ""
	if g.samplePercent < 100 {
		tablesample = fmt.Sprintf("TABLESAMPLE SYSTEM (%g PERCENT)", g.samplePercent)
	}

	available := map[string]bool{}
	for _, table := range g.availableTables {
		available[table] = true
	}

	var parts []string
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		day := d.Format(dayFormat)
		if g.availableTables != nil && !available[day] {
			continue
		}
		parts = append(parts, fmt.Sprintf(rawSelectTemplate, day, tablesample))
	}
	if len(parts) == 0 {
		return "", xerrors.New("no GH Archive daily tables in the requested range")
	}

	union := strings.Join(parts, "\nUNION ALL\n")
	return fmt.Sprintf(aggregateTemplate, union, g.start, g.end), nil
}
