// Package config loads the optional canary.yaml. Every field has a working
// default and an environment override, so the file is never required.
package config

import (
	"os"
	"strconv"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/jenkins-canary/canary/utils"
)

const defaultPath = "canary.yaml"

type Config struct {
	// DatasetDir is the root of the local canonical datasets.
	DatasetDir string `yaml:"dataset_dir"`

	// PreferReal selects real-sourced advisories files over sample-sourced
	// ones.
	PreferReal bool `yaml:"prefer_real"`

	// DatasetRepoURL is the published dataset repository for git sync.
	DatasetRepoURL string `yaml:"dataset_repo_url"`

	Retry int `yaml:"retry"`

	// GithubToken is usually supplied via GITHUB_TOKEN instead.
	GithubToken string `yaml:"github_token"`
}

// Load reads path (default canary.yaml), falling back to defaults when the
// file is absent, then applies environment overrides.
func Load(path string) (Config, error) {
	if path == "" {
		path = defaultPath
	}

	c := Config{
		DatasetDir: utils.DatasetDir(),
		Retry:      3,
	}

	if b, err := os.ReadFile(path); err == nil {
		if err = yaml.Unmarshal(b, &c); err != nil {
			return Config{}, xerrors.Errorf("failed to parse %s: %w", path, err)
		}
		if c.DatasetDir == "" {
			c.DatasetDir = utils.DatasetDir()
		}
	} else if !os.IsNotExist(err) {
		return Config{}, xerrors.Errorf("failed to read %s: %w", path, err)
	}

	c.DatasetDir = utils.LookupEnv("CANARY_DATASET_DIR", c.DatasetDir)
	c.DatasetRepoURL = utils.LookupEnv("CANARY_DATASET_REPO", c.DatasetRepoURL)
	c.GithubToken = utils.LookupEnv("GITHUB_TOKEN", c.GithubToken)
	if v, ok := os.LookupEnv("CANARY_PREFER_REAL"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.PreferReal = b
		}
	}
	return c, nil
}
