package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clarigen/clarigen/internal/writer"
)

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigNoSecrets(configPath)
	if err != nil {
		return err
	}

	store := writer.NewTaskStore(cfg.Generation.OutputDir)
	tasks, err := corpusTasks(cfg.Generation.OutputDir)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No corpus files found.")
		return nil
	}

	total := 0
	atTarget := 0
	byDomain := make(map[string]int)
	byType := make(map[string]int)
	byRound := make(map[string]int)

	for _, task := range tasks {
		count, err := store.Count(task)
		if err != nil {
			return err
		}
		total += count
		if count >= cfg.Generation.TargetPerTask {
			atTarget++
		}
		byDomain[task.DomainCode] += count
		byType[task.TypeCode] += count
		byRound[fmt.Sprintf("%d_round", task.Rounds)] += count
	}

	fmt.Printf("Corpus root: %s\n", cfg.Generation.OutputDir)
	fmt.Printf("Files: %d  Records: %d  Files at target (%d): %d\n\n",
		len(tasks), total, cfg.Generation.TargetPerTask, atTarget)

	printCounts("By domain", byDomain)
	printCounts("By ambiguity type", byType)
	printCounts("By round", byRound)

	if data, err := os.ReadFile(store.IncompleteLogPath()); err == nil {
		entries := strings.TrimSpace(string(data))
		if entries != "" {
			fmt.Println("Incomplete-task history:")
			fmt.Println(entries)
		}
	}
	return nil
}

func printCounts(title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(title + ":")
	for _, k := range keys {
		fmt.Printf("  %-40s %d\n", k, counts[k])
	}
	fmt.Println()
}
