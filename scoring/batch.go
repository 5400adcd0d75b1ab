package scoring

import (
	"log"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/utils"
)

const concurrency = 5

// BatchConfig scores every plugin listed in the local registry, one output
// file per plugin. Plugins with an existing non-empty score file are skipped
// unless force is set, so an interrupted pass resumes where it stopped.
type BatchConfig struct {
	locator *dataset.Locator
	today   time.Time
	force   bool
}

type BatchOption func(*BatchConfig)

func WithLocator(loc *dataset.Locator) BatchOption {
	return func(c *BatchConfig) { c.locator = loc }
}

func WithToday(today time.Time) BatchOption {
	return func(c *BatchConfig) { c.today = today }
}

func WithForce(force bool) BatchOption {
	return func(c *BatchConfig) { c.force = force }
}

func NewBatchConfig(opts ...BatchOption) BatchConfig {
	c := BatchConfig{
		locator: dataset.NewLocator(""),
		today:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c BatchConfig) Run() error {
	appFs := c.locator.Fs()

	ok, err := afero.DirExists(appFs, c.locator.Root())
	if err != nil {
		return xerrors.Errorf("failed to stat the dataset root: %w", err)
	}
	if !ok {
		return xerrors.Errorf("dataset root does not exist: %s", c.locator.Root())
	}

	ids, presence := c.locator.LoadRegistryIDs()
	if presence == dataset.Absent {
		return xerrors.Errorf("registry is missing: %s", c.locator.RegistryPath())
	}
	if len(ids) == 0 {
		return xerrors.New("registry contains no plugins")
	}

	log.Printf("Scoring %d Jenkins plugins...\n", len(ids))
	bar := pb.StartNew(len(ids))
	idChan := make(chan string, len(ids))
	errChan := make(chan error, len(ids))
	for _, id := range ids {
		idChan <- id
	}

	tasks := utils.GenWorkers(concurrency, 0)
	for range ids {
		tasks <- func() {
			defer bar.Increment()
			errChan <- c.scoreOne(<-idChan)
		}
	}

	var errs []error
	for range ids {
		if err := <-errChan; err != nil {
			errs = append(errs, err)
		}
	}
	bar.Finish()

	if len(errs) > 0 {
		return xerrors.Errorf("failed to score %d plugins, first error: %w", len(errs), errs[0])
	}
	return nil
}

func (c BatchConfig) scoreOne(pluginID string) error {
	path := c.locator.ScorePath(pluginID)
	if !c.force {
		if info, err := c.locator.Fs().Stat(path); err == nil && info.Size() > 0 {
			return nil
		}
	}

	result := Score(c.locator, pluginID, c.today)
	if err := utils.NewFs(c.locator.Fs()).WriteJSONAtomic(path, result); err != nil {
		return xerrors.Errorf("failed to write the score for %s: %w", pluginID, err)
	}
	return nil
}
