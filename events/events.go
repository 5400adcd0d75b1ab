// Package events builds the processed advisories events dataset: every
// per-plugin advisories file folded into one deduplicated, deterministically
// sorted JSONL, written plain and gzip-compressed.
package events

import (
	"bytes"
	"encoding/json"
	"log"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/jenkins-canary/canary/advisory"
	"github.com/jenkins-canary/canary/dataset"
	"github.com/jenkins-canary/canary/utils"
)

type options struct {
	locator *dataset.Locator
}

type option func(*options)

func WithLocator(loc *dataset.Locator) option {
	return func(opts *options) { opts.locator = loc }
}

type Events struct {
	*options
}

func NewEvents(opts ...option) Events {
	o := &options{
		locator: dataset.NewLocator(""),
	}

	for _, opt := range opts {
		opt(o)
	}

	return Events{
		options: o,
	}
}

func (e Events) Build() error {
	appFs := e.locator.Fs()

	dir := e.locator.AdvisoriesDir()
	if ok, _ := afero.DirExists(appFs, dir); !ok {
		return xerrors.Errorf("advisories directory not found: %s", dir)
	}

	paths, err := afero.Glob(appFs, filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return xerrors.Errorf("failed to list advisories files: %w", err)
	}
	sort.Strings(paths)

	var records []advisory.Record
	for _, path := range paths {
		f, err := appFs.Open(path)
		if err != nil {
			return xerrors.Errorf("failed to open %s: %w", path, err)
		}
		records = append(records, advisory.DecodeLines(f)...)
		f.Close()
	}

	merged := advisory.MergeAll(records)
	log.Printf("Built %d advisory events from %d files\n", len(merged), len(paths))

	var buf bytes.Buffer
	for _, rec := range merged {
		b, err := json.Marshal(rec)
		if err != nil {
			return xerrors.Errorf("failed to marshal JSON: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	fs := utils.NewFs(appFs)
	outPath := e.locator.EventsPath()
	if err = fs.WriteBytesAtomic(outPath, buf.Bytes()); err != nil {
		return xerrors.Errorf("failed to write the events file: %w", err)
	}

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err = gw.Write(buf.Bytes()); err != nil {
		return xerrors.Errorf("gzip write error: %w", err)
	}
	if err = gw.Close(); err != nil {
		return xerrors.Errorf("gzip close error: %w", err)
	}
	if err = fs.WriteBytesAtomic(outPath+".gz", gzBuf.Bytes()); err != nil {
		return xerrors.Errorf("failed to write the compressed events file: %w", err)
	}
	return nil
}
