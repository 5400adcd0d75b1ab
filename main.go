package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	githubql "github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/advisories"
	"github.com/jenkins-canary/canary/config"
	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/events"
	"github.com/jenkins-canary/canary/gharchive"
	"github.com/jenkins-canary/canary/git"
	"github.com/jenkins-canary/canary/github"
	"github.com/jenkins-canary/canary/healthscore"
	"github.com/jenkins-canary/canary/registry"
	"github.com/jenkins-canary/canary/scoring"
	"github.com/jenkins-canary/canary/snapshot"
	"github.com/jenkins-canary/canary/utils"
)

var (
	target     = flag.String("target", "", "update target (registry, snapshot, advisories, healthscore, github, gharchive, events, score, score-batch, sync, download)")
	pluginID   = flag.String("plugin-id", "", "plugin id (snapshot, advisories, github, score)")
	real       = flag.Bool("real", false, "collect from live sources instead of bundled samples (snapshot, advisories)")
	force      = flag.Bool("force", false, "rescore plugins that already have a score file (score-batch)")
	overwrite  = flag.Bool("overwrite", false, "refetch the health score aggregate (healthscore)")
	configPath = flag.String("config", "", "path to canary.yaml")
	maxPlugins = flag.Int("max-plugins", 0, "stop the registry crawl after this many plugins (registry)")
	ghStart    = flag.String("gh-start", "", "first GH Archive day, YYYYMMDD (gharchive)")
	ghEnd      = flag.String("gh-end", "", "last GH Archive day, YYYYMMDD (gharchive)")
	ghSample   = flag.Float64("gh-sample", 100, "GH Archive TABLESAMPLE percent (gharchive)")
	src        = flag.String("src", "", "dataset archive URL (download)")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()
	now := time.Now().UTC()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return xerrors.Errorf("config error: %w", err)
	}
	loc := dataset.NewLocator(cfg.DatasetDir, dataset.WithPreferReal(cfg.PreferReal))

	if last, err := utils.GetLastUpdatedDate(cfg.DatasetDir, *target); err == nil && last.After(time.Unix(0, 0)) {
		log.Printf("last %s update: %s\n", *target, last.Format(time.RFC3339))
	}

	switch *target {
	case "registry":
		r := registry.NewRegistry(
			registry.WithLocator(loc),
			registry.WithRetry(cfg.Retry),
			registry.WithMaxPlugins(*maxPlugins),
		)
		if err := r.Update(); err != nil {
			return xerrors.Errorf("error in registry update: %w", err)
		}
	case "snapshot":
		if *pluginID == "" {
			return xerrors.New("-plugin-id must be specified")
		}
		s := snapshot.NewSnapshot(
			snapshot.WithLocator(loc),
			snapshot.WithPluginID(*pluginID),
			snapshot.WithReal(*real),
			snapshot.WithRetry(cfg.Retry),
		)
		if err := s.Update(); err != nil {
			return xerrors.Errorf("error in snapshot update: %w", err)
		}
	case "advisories":
		a := advisories.NewAdvisories(
			advisories.WithLocator(loc),
			advisories.WithPluginID(*pluginID),
			advisories.WithReal(*real),
			advisories.WithRetry(cfg.Retry),
		)
		if err := a.Update(); err != nil {
			return xerrors.Errorf("error in advisories update: %w", err)
		}
	case "healthscore":
		h := healthscore.NewHealthScore(
			healthscore.WithLocator(loc),
			healthscore.WithRetry(cfg.Retry),
			healthscore.WithOverwrite(*overwrite),
		)
		if err := h.Update(); err != nil {
			return xerrors.Errorf("error in health score update: %w", err)
		}
	case "github":
		if *pluginID == "" {
			return xerrors.New("-plugin-id must be specified")
		}
		if cfg.GithubToken == "" {
			return xerrors.New("GITHUB_TOKEN must be set")
		}
		httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.GithubToken},
		))
		gc := github.NewConfig(githubql.NewClient(httpClient),
			github.WithLocator(loc), github.WithRetry(cfg.Retry))
		if err := gc.Update(*pluginID); err != nil {
			return xerrors.Errorf("error in GitHub repo update: %w", err)
		}
	case "gharchive":
		opts := []gharchive.Option{
			gharchive.WithLocator(loc),
			gharchive.WithSamplePercent(*ghSample),
		}
		if *ghStart != "" || *ghEnd != "" {
			opts = append(opts, gharchive.WithRange(*ghStart, *ghEnd))
		}
		g := gharchive.NewGHArchive(opts...)
		if err := g.Update(); err != nil {
			return xerrors.Errorf("error in GH Archive query update: %w", err)
		}
	case "events":
		e := events.NewEvents(events.WithLocator(loc))
		if err := e.Build(); err != nil {
			return xerrors.Errorf("error in events build: %w", err)
		}
	case "score":
		if *pluginID == "" {
			return xerrors.New("-plugin-id must be specified")
		}
		result := scoring.Score(loc, *pluginID, now)
		if err := utils.NewFs(loc.Fs()).WriteJSONAtomic(loc.ScorePath(*pluginID), result); err != nil {
			return xerrors.Errorf("failed to write the score: %w", err)
		}
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	case "score-batch":
		b := scoring.NewBatchConfig(
			scoring.WithLocator(loc),
			scoring.WithToday(now),
			scoring.WithForce(*force),
		)
		if err := b.Run(); err != nil {
			return xerrors.Errorf("error in batch scoring: %w", err)
		}
	case "sync":
		if cfg.DatasetRepoURL == "" {
			return xerrors.New("dataset_repo_url must be set (canary.yaml or CANARY_DATASET_REPO)")
		}
		gc := git.Config{}
		files, err := gc.CloneOrPull(cfg.DatasetRepoURL, cfg.DatasetDir, "main")
		if err != nil {
			return xerrors.Errorf("clone or pull error: %w", err)
		}
		log.Printf("%d files updated\n", len(files))
	case "download":
		if *src == "" {
			return xerrors.New("-src must be specified")
		}
		if err := utils.DownloadToDir(context.Background(), *src, cfg.DatasetDir); err != nil {
			return xerrors.Errorf("error in dataset download: %w", err)
		}
	default:
		return xerrors.New("unknown target")
	}

	return utils.SetLastUpdatedDate(cfg.DatasetDir, *target, now)
}
