// Package registry collects the plugin universe from plugins.jenkins.io.
// The registry file is the spine every other collector fans out over.
package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/utils"
)

const (
	registryURL = "https://plugins.jenkins.io/api/plugins"
	pageSize    = 500
	retryTimes  = 3
)

// Record is one registry line: enough to address the plugin everywhere else.
type Record struct {
	PluginID    string `json:"plugin_id"`
	SiteURL     string `json:"plugin_site_url"`
	APIURL      string `json:"plugin_api_url"`
	CollectedAt string `json:"collected_at"`
	Name        string `json:"plugin_name,omitempty"`
	Title       string `json:"plugin_title,omitempty"`
}

type options struct {
	url        string
	locator    *dataset.Locator
	pageSize   int
	maxPlugins int
	retry      int
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithLocator(loc *dataset.Locator) option {
	return func(opts *options) { opts.locator = loc }
}

func WithPageSize(pageSize int) option {
	return func(opts *options) { opts.pageSize = pageSize }
}

// WithMaxPlugins caps the collection, for partial pulls and tests.
func WithMaxPlugins(maxPlugins int) option {
	return func(opts *options) { opts.maxPlugins = maxPlugins }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

type Registry struct {
	*options
}

func NewRegistry(opts ...option) Registry {
	o := &options{
		url:      registryURL,
		locator:  dataset.NewLocator(""),
		pageSize: pageSize,
		retry:    retryTimes,
	}

	for _, opt := range opts {
		opt(o)
	}

	return Registry{
		options: o,
	}
}

func (r Registry) Update() error {
	log.Println("Fetching Jenkins plugin registry...")
	records, err := r.retrievePlugins()
	if err != nil {
		return xerrors.Errorf("failed to retrieve the plugin registry: %w", err)
	}
	log.Printf("Collected %d plugins\n", len(records))

	lines := make([]interface{}, 0, len(records))
	for _, rec := range records {
		lines = append(lines, rec)
	}
	fs := utils.NewFs(r.locator.Fs())
	if err = fs.WriteJSONLinesAtomic(r.locator.RegistryPath(), lines); err != nil {
		return xerrors.Errorf("failed to write the registry: %w", err)
	}
	return nil
}

// retrievePlugins pages through the API with limit/offset, following an
// explicit next link when the payload carries one.
func (r Registry) retrievePlugins() ([]Record, error) {
	collectedAt := time.Now().UTC().Format(time.RFC3339)
	var records []Record

	offset := 0
	nextURL := ""
	for {
		pageURL := nextURL
		if pageURL == "" {
			pageURL = fmt.Sprintf("%s?limit=%d&offset=%d", r.url, r.pageSize, offset)
		}

		body, err := utils.FetchURL(pageURL, "", r.retry)
		if err != nil {
			return nil, xerrors.Errorf("failed to fetch the registry page: %w", err)
		}

		page, err := decodePage(body)
		if err != nil {
			return nil, xerrors.Errorf("unexpected registry payload from %s: %w", pageURL, err)
		}

		for _, obj := range page.plugins {
			rec, ok := toRecord(obj, collectedAt)
			if !ok {
				continue
			}
			records = append(records, rec)
			if r.maxPlugins > 0 && len(records) >= r.maxPlugins {
				return records, nil
			}
		}

		nextURL = page.next
		if nextURL != "" {
			continue
		}
		if page.total > 0 {
			if offset+len(page.plugins) >= page.total {
				break
			}
		} else if len(page.plugins) < r.pageSize {
			break
		}
		offset += len(page.plugins)
	}
	return records, nil
}

type page struct {
	plugins []map[string]json.RawMessage
	total   int
	next    string
}

// decodePage accepts the two payload shapes the API has used: an object with
// a plugins list (plus optional total and next link), or a bare list.
func decodePage(body []byte) (page, error) {
	var container struct {
		Plugins []map[string]json.RawMessage `json:"plugins"`
		Total   json.RawMessage              `json:"total"`
		Next    string                       `json:"next"`
	}
	if err := json.Unmarshal(body, &container); err == nil && container.Plugins != nil {
		p := page{plugins: container.Plugins}
		p.total = decodeTotal(container.Total)
		if u, err := url.Parse(container.Next); err == nil && strings.HasPrefix(u.Scheme, "http") {
			p.next = container.Next
		}
		return p, nil
	}

	var list []map[string]json.RawMessage
	if err := json.Unmarshal(body, &list); err != nil {
		return page{}, xerrors.Errorf("json unmarshal error: %w", err)
	}
	return page{plugins: list}, nil
}

// decodeTotal tolerates a number or a numeric string.
func decodeTotal(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if n, err := strconv.Atoi(str); err == nil {
			return n
		}
	}
	return 0
}

// toRecord is permissive about the id key; the API shape has changed over
// time.
func toRecord(obj map[string]json.RawMessage, collectedAt string) (Record, bool) {
	id := ""
	for _, key := range []string{"name", "pluginId", "id", "artifactId"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var str string
		if err := json.Unmarshal(raw, &str); err == nil && strings.TrimSpace(str) != "" {
			id = strings.TrimSpace(str)
			break
		}
	}
	if id == "" {
		return Record{}, false
	}

	rec := Record{
		PluginID:    id,
		SiteURL:     fmt.Sprintf("https://plugins.jenkins.io/%s/", id),
		APIURL:      fmt.Sprintf("https://plugins.jenkins.io/api/plugin/%s", id),
		CollectedAt: collectedAt,
	}
	if raw, ok := obj["name"]; ok {
		json.Unmarshal(raw, &rec.Name)
	}
	if raw, ok := obj["title"]; ok {
		json.Unmarshal(raw, &rec.Title)
	}
	return rec, true
}
