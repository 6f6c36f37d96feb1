package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the completion server",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	models, err := a.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models at %s: %w", a.client.BaseURL(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", a.client.BaseURL())
	for _, m := range models {
		marker := "  "
		if m == a.client.Model() {
			marker = "* "
		}
		fmt.Fprintf(out, "%s%s\n", marker, m)
	}
	if len(models) == 0 {
		fmt.Fprintln(out, "  (no models loaded)")
	}
	return nil
}
