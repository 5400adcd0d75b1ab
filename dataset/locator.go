// Package dataset maps plugin ids onto the canonical local dataset files
// written by the collectors and reads them back tolerantly. Missing data is
// never an error here: every loader reports presence explicitly so scoring
// can count missing sources instead of failing.
package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jenkins-canary/canary/advisory"
	"github.com/jenkins-canary/canary/utils"
)

// Presence tags a loader result: the file was missing, readable, or present
// but not decodable.
type Presence int

const (
	Absent Presence = iota
	Present
	Malformed
)

const (
	advisoriesDir  = "advisories"
	pluginsDir     = "plugins"
	healthscoreDir = "healthscore"
	registryDir    = "registry"
	githubDir      = "github"
	scoresDir      = "scores"
	processedDir   = "processed"
)

// Locator is the single place that knows the dataset file layout. Everything
// above it asks for files by (plugin id, kind) and can be pointed at any
// afero filesystem.
type Locator struct {
	root       string
	appFs      afero.Fs
	preferReal bool
}

type option func(*Locator)

func WithFs(appFs afero.Fs) option {
	return func(l *Locator) { l.appFs = appFs }
}

// WithPreferReal selects the real-sourced advisories file over the
// sample-sourced one. Only one variant is ever consulted; there is no merge
// across real/sample.
func WithPreferReal(preferReal bool) option {
	return func(l *Locator) { l.preferReal = preferReal }
}

func NewLocator(root string, opts ...option) *Locator {
	if root == "" {
		root = utils.DatasetDir()
	}
	l := &Locator{
		root:  root,
		appFs: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locator) Root() string { return l.root }

func (l *Locator) Fs() afero.Fs { return l.appFs }

func (l *Locator) PreferReal() bool { return l.preferReal }

// AdvisoriesPath returns the advisories file to consult for a plugin: the
// preferred variant first, then the other, then the legacy bare name. ok is
// false when none exists.
func (l *Locator) AdvisoriesPath(pluginID string) (string, bool) {
	variants := []string{"sample", "real"}
	if l.preferReal {
		variants = []string{"real", "sample"}
	}

	var candidates []string
	for _, v := range variants {
		candidates = append(candidates,
			filepath.Join(l.root, advisoriesDir, fmt.Sprintf("%s.advisories.%s.jsonl", pluginID, v)))
	}
	candidates = append(candidates,
		filepath.Join(l.root, advisoriesDir, fmt.Sprintf("%s.advisories.jsonl", pluginID)))

	for _, p := range candidates {
		if ok, _ := afero.Exists(l.appFs, p); ok {
			return p, true
		}
	}
	return "", false
}

func (l *Locator) AdvisoriesDir() string {
	return filepath.Join(l.root, advisoriesDir)
}

// AdvisoriesOutPath is where a collector writes its output for a plugin,
// by variant ("real" or "sample").
func (l *Locator) AdvisoriesOutPath(pluginID, variant string) string {
	return filepath.Join(l.root, advisoriesDir, fmt.Sprintf("%s.advisories.%s.jsonl", pluginID, variant))
}

func (l *Locator) SnapshotPath(pluginID string) string {
	return filepath.Join(l.root, pluginsDir, fmt.Sprintf("%s.snapshot.json", pluginID))
}

func (l *Locator) HealthScorePath(pluginID string) string {
	return filepath.Join(l.root, healthscoreDir, pluginsDir, fmt.Sprintf("%s.healthscore.json", pluginID))
}

func (l *Locator) HealthScoreAggregatePath() string {
	return filepath.Join(l.root, healthscoreDir, "scores.json")
}

func (l *Locator) RegistryPath() string {
	return filepath.Join(l.root, registryDir, "plugins.jsonl")
}

func (l *Locator) GithubRepoPath(pluginID string) string {
	return filepath.Join(l.root, githubDir, fmt.Sprintf("%s.repo.json", pluginID))
}

func (l *Locator) ScorePath(pluginID string) string {
	return filepath.Join(l.root, scoresDir, fmt.Sprintf("%s.score.json", pluginID))
}

func (l *Locator) EventsPath() string {
	return filepath.Join(l.root, processedDir, "events", "advisories.jsonl")
}

func (l *Locator) GHArchiveQueryPath() string {
	return filepath.Join(l.root, processedDir, "gharchive", "plugin_activity.sql")
}

// LoadAdvisories reads the plugin's advisory records. Malformed lines inside
// an existing file are skipped, so a present-but-garbled file still reports
// Present with fewer (possibly zero) records.
func (l *Locator) LoadAdvisories(pluginID string) ([]advisory.Record, Presence) {
	path, ok := l.AdvisoriesPath(pluginID)
	if !ok {
		return nil, Absent
	}

	f, err := l.appFs.Open(path)
	if err != nil {
		return nil, Absent
	}
	defer f.Close()

	return advisory.DecodeLines(f), Present
}
