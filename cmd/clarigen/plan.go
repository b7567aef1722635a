package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clarigen/clarigen/internal/plan"
	"github.com/clarigen/clarigen/internal/writer"
)

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigNoSecrets(configPath)
	if err != nil {
		return err
	}

	generationPlan, err := plan.Load(cfg.Generation.PlanFile)
	if err != nil {
		return fmt.Errorf("failed to load generation plan: %w", err)
	}
	tasks, err := generationPlan.Tasks(cfg.Generation.TargetPerTask)
	if err != nil {
		return fmt.Errorf("failed to expand generation plan: %w", err)
	}

	store := writer.NewTaskStore(cfg.Generation.OutputDir)
	complete := 0
	pending := 0

	fmt.Printf("%-70s %s\n", "TASK", "PROGRESS")
	for _, task := range tasks {
		count, err := store.Count(task)
		if err != nil {
			return err
		}
		status := ""
		if count >= task.Target {
			status = " (complete)"
			complete++
		} else {
			pending++
		}
		fmt.Printf("%-70s %d/%d%s\n", task.ID(), count, task.Target, status)
	}

	fmt.Printf("\n%d tasks: %d complete, %d pending\n", len(tasks), complete, pending)
	return nil
}
