package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const lastUpdatedFile = "last_updated.json"

type LastUpdated map[string]time.Time

// GetLastUpdatedDate returns when the target last completed inside the given
// dataset dir, the zero-second epoch when it never has.
func GetLastUpdatedDate(dir, target string) (time.Time, error) {
	lastUpdated, err := getLastUpdatedDate(dir)
	if err != nil {
		return time.Time{}, err
	}

	t, ok := lastUpdated[target]
	if !ok {
		return time.Unix(0, 0), nil
	}

	return t, nil
}

func getLastUpdatedDate(dir string) (map[string]time.Time, error) {
	lastUpdated := LastUpdated{}
	path := filepath.Join(dir, lastUpdatedFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return lastUpdated, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(&lastUpdated); err != nil {
		return nil, err
	}

	return lastUpdated, nil
}

func SetLastUpdatedDate(dir, target string, lastUpdatedDate time.Time) error {
	lastUpdated, err := getLastUpdatedDate(dir)
	if err != nil {
		return xerrors.Errorf("failed to get last updated date: %w", err)
	}
	lastUpdated[target] = lastUpdatedDate

	b, err := json.MarshalIndent(lastUpdated, "", "  ")
	if err != nil {
		return err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("failed to create the dataset directory: %w", err)
	}
	if err = os.WriteFile(filepath.Join(dir, lastUpdatedFile), b, 0600); err != nil {
		return xerrors.Errorf("failed to write last updated date: %w", err)
	}

	return nil
}
