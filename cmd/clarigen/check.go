package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clarigen/clarigen/internal/config"
	"github.com/clarigen/clarigen/internal/extract"
	"github.com/clarigen/clarigen/internal/writer"
	"github.com/clarigen/clarigen/pkg/models"
)

// checkBucket accumulates before/after counts for one grouping key.
type checkBucket struct {
	Files   int `json:"files"`
	Before  int `json:"data_before"`
	After   int `json:"data_after"`
	Removed int `json:"removed"`
}

// checkStats is the report written to check_stats.json after a check run.
type checkStats struct {
	TotalFiles        int                    `json:"total_files"`
	TotalBefore       int                    `json:"total_data_before"`
	TotalAfter        int                    `json:"total_data_after"`
	TotalRemoved      int                    `json:"total_removed"`
	FilesWithRemovals int                    `json:"files_with_removals"`
	ByDomain          map[string]*checkBucket `json:"by_domain"`
	ByType            map[string]*checkBucket `json:"by_type"`
	ByRound           map[string]*checkBucket `json:"by_round"`
	Errors            []string               `json:"error_details"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigNoSecrets(configPath)
	if err != nil {
		return err
	}

	store := writer.NewTaskStore(cfg.Generation.OutputDir)
	stats := &checkStats{
		ByDomain: make(map[string]*checkBucket),
		ByType:   make(map[string]*checkBucket),
		ByRound:  make(map[string]*checkBucket),
	}

	tasks, err := corpusTasks(cfg.Generation.OutputDir)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No corpus files found.")
		return nil
	}

	for _, task := range tasks {
		records, err := store.Load(task)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", task.ID(), err))
			continue
		}

		var valid []models.Record
		for _, rec := range records {
			ok, reason := extract.Validate(rec, task.Rounds, cfg.Generation.SummaryMarker)
			if !ok {
				if verbose {
					fmt.Printf("  removed from %s: %s\n", task.ID(), reason)
				}
				continue
			}
			valid = append(valid, rec)
		}

		removed := len(records) - len(valid)
		if removed > 0 {
			if err := store.Replace(task, valid); err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", task.ID(), err))
				continue
			}
			stats.FilesWithRemovals++
		}

		stats.TotalFiles++
		stats.TotalBefore += len(records)
		stats.TotalAfter += len(valid)
		stats.TotalRemoved += removed
		bucketAdd(stats.ByDomain, task.DomainCode, len(records), len(valid))
		bucketAdd(stats.ByType, task.TypeCode, len(records), len(valid))
		bucketAdd(stats.ByRound, fmt.Sprintf("%d_round", task.Rounds), len(records), len(valid))
	}

	statsPath := filepath.Join(cfg.Generation.OutputDir, "check_stats.json")
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal check stats: %w", err)
	}
	if err := os.WriteFile(statsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write check stats: %w", err)
	}

	fmt.Printf("Checked %d files: %d records kept, %d removed (%d files touched)\n",
		stats.TotalFiles, stats.TotalAfter, stats.TotalRemoved, stats.FilesWithRemovals)
	fmt.Printf("Report written to %s\n", statsPath)
	for _, e := range stats.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	return nil
}

func bucketAdd(buckets map[string]*checkBucket, key string, before, after int) {
	b, ok := buckets[key]
	if !ok {
		b = &checkBucket{}
		buckets[key] = b
	}
	b.Files++
	b.Before += before
	b.After += after
	b.Removed += before - after
}

// corpusTasks reconstructs task identities from the on-disk corpus layout
// <root>/<domain>/<type>/<N>_round.json.
func corpusTasks(root string) ([]models.Task, error) {
	var tasks []models.Task
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), "_round.json") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 3 {
			return nil
		}
		rounds, err := strconv.Atoi(strings.TrimSuffix(parts[2], "_round.json"))
		if err != nil || rounds < 1 {
			return nil
		}
		tasks = append(tasks, models.Task{
			DomainCode: parts[0],
			TypeCode:   parts[1],
			Rounds:     rounds,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}
	return tasks, nil
}

// loadConfigNoSecrets loads the configuration for read-only commands that
// never contact the endpoint and therefore need no API key.
func loadConfigNoSecrets(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := config.ParseAndValidate(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
