// Package healthscore collects the plugin-health.jenkins.io score export:
// one aggregate scores.json plus a per-plugin fan-out, so the scorer can
// read a single plugin's health without scanning the whole export.
package healthscore

import (
	"encoding/json"
	"log"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/utils"
)

const (
	healthScoreURL = "https://plugin-health.jenkins.io/api/scores"
	retryTimes     = 3
)

type options struct {
	url       string
	locator   *dataset.Locator
	retry     int
	overwrite bool
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithLocator(loc *dataset.Locator) option {
	return func(opts *options) { opts.locator = loc }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

// WithOverwrite refetches and rewrites files that already exist; without it
// an interrupted fan-out resumes where it stopped.
func WithOverwrite(overwrite bool) option {
	return func(opts *options) { opts.overwrite = overwrite }
}

type HealthScore struct {
	*options
}

func NewHealthScore(opts ...option) HealthScore {
	o := &options{
		url:     healthScoreURL,
		locator: dataset.NewLocator(""),
		retry:   retryTimes,
	}

	for _, opt := range opts {
		opt(o)
	}

	return HealthScore{
		options: o,
	}
}

type wrappedRecord struct {
	PluginID    string          `json:"plugin_id"`
	CollectedAt string          `json:"collected_at"`
	Record      json.RawMessage `json:"record"`
}

func (h HealthScore) Update() error {
	fs := utils.NewFs(h.locator.Fs())
	collectedAt := time.Now().UTC().Format(time.RFC3339)

	payload, err := h.aggregate(fs)
	if err != nil {
		return err
	}

	records := dataset.HealthScoreRecords(payload)
	log.Printf("Writing %d plugin health score files...\n", len(records))
	bar := pb.StartNew(len(records))
	written, skipped := 0, 0
	for _, rec := range records {
		bar.Increment()
		if rec.PluginID == "" {
			continue
		}

		path := h.locator.HealthScorePath(rec.PluginID)
		if !h.overwrite {
			if info, err := h.locator.Fs().Stat(path); err == nil && info.Size() > 0 {
				skipped++
				continue
			}
		}

		wrapped := wrappedRecord{
			PluginID:    rec.PluginID,
			CollectedAt: collectedAt,
			Record:      rec.Raw,
		}
		if err = fs.WriteJSONAtomic(path, wrapped); err != nil {
			return xerrors.Errorf("failed to write the health score for %s: %w", rec.PluginID, err)
		}
		written++
	}
	bar.Finish()
	log.Printf("Health scores: %d written, %d skipped\n", written, skipped)
	return nil
}

// aggregate returns the raw score export, reusing a previously stored
// scores.json unless overwrite is set.
func (h HealthScore) aggregate(fs utils.Fs) ([]byte, error) {
	path := h.locator.HealthScoreAggregatePath()
	if !h.overwrite {
		if info, err := h.locator.Fs().Stat(path); err == nil && info.Size() > 0 {
			body, err := afero.ReadFile(h.locator.Fs(), path)
			if err != nil {
				return nil, xerrors.Errorf("failed to read the stored score export: %w", err)
			}
			return body, nil
		}
	}

	log.Println("Fetching plugin health scores...")
	body, err := utils.FetchURL(h.url, "", h.retry)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch health scores: %w", err)
	}
	if !json.Valid(body) {
		return nil, xerrors.New("invalid JSON from the health score API")
	}
	if err = fs.WriteBytesAtomic(path, body); err != nil {
		return nil, xerrors.Errorf("failed to write the score export: %w", err)
	}
	return body, nil
}
