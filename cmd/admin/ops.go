package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"railwars.gg/internal/config"
	persistlog "railwars.gg/internal/persistence/log"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the job journal.",
}

var jobsCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Print journaled (unfinished) jobs per queue.",
	Args:  cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, e *env, _ []string) error {
		counts, err := e.store.Journal().Counts(cmd.Context())
		if err != nil {
			return err
		}
		queues := make([]string, 0, len(counts))
		for q := range counts {
			queues = append(queues, q)
		}
		sort.Strings(queues)
		for _, q := range queues {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", q, counts[q])
		}
		return nil
	}),
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Read the relay notification journal.",
}

var journalCatCmd = &cobra.Command{
	Use:   "cat [FILE...]",
	Short: "Print journaled notifications as JSON lines.",
	Long:  "Without FILE arguments every file under relay.journal_dir is printed, oldest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := args
		if len(files) == 0 {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			l := persistlog.NewNotificationLog(cfg.Relay.JournalDir)
			files, err = l.Files()
			if err != nil {
				return err
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, f := range files {
			entries, err := persistlog.ReadJSONL[persistlog.NotificationEntry](f)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(f), err)
			}
			for _, en := range entries {
				if err := enc.Encode(en); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsCountsCmd)
	journalCmd.AddCommand(journalCatCmd)
	rootCmd.AddCommand(jobsCmd, journalCmd)
}
