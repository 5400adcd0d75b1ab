package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kylelemons/godebug/pretty"

	"github.com/jenkins-canary/canary/scoring"
)

// Compares two score directories, e.g. before and after a scorer change:
//
//	go run ./scripts/compare_scores.go <old-scores-dir> <new-scores-dir>
func main() {
	if len(os.Args) != 3 {
		log.Fatalf("usage: %s <old-scores-dir> <new-scores-dir>", os.Args[0])
	}

	oldScores, err := loadScores(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	newScores, err := loadScores(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}

	var plugins []string
	seen := map[string]bool{}
	for id := range oldScores {
		plugins = append(plugins, id)
		seen[id] = true
	}
	for id := range newScores {
		if !seen[id] {
			plugins = append(plugins, id)
		}
	}
	sort.Strings(plugins)

	var changed, added, removed int
	for _, id := range plugins {
		oldResult, inOld := oldScores[id]
		newResult, inNew := newScores[id]
		switch {
		case !inOld:
			added++
			fmt.Printf("=== %s: only in %s (score %d)\n", id, os.Args[2], newResult.Score)
		case !inNew:
			removed++
			fmt.Printf("=== %s: only in %s (score %d)\n", id, os.Args[1], oldResult.Score)
		default:
			if diff := pretty.Compare(oldResult, newResult); diff != "" {
				changed++
				fmt.Printf("=== %s\n%s\n", id, diff)
			}
		}
	}
	fmt.Printf("%d plugins compared: %d changed, %d added, %d removed\n",
		len(plugins), changed, added, removed)
}

func loadScores(dir string) (map[string]scoring.ScoreResult, error) {
	scores := map[string]scoring.ScoreResult{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var result scoring.ScoreResult
		if err = json.Unmarshal(content, &result); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		scores[result.Plugin] = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}
