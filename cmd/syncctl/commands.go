package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/cache"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/engine"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/env"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/events"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
	metrics "github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/metrics/counter"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/scheduler"
)

const commandTimeout = 15 * time.Second

// connect opens the redis connection the running engine uses. The CLI never
// starts workers, so the queue is only used for its operator methods.
func connect() (*redis.Client, *jobqueue.Queue, func()) {
	env.SetupEnvFile()
	client := redis.NewClient(cache.Options())
	return client, jobqueue.NewQueue(client, engine.ConfigFromEnv().Queue), func() { _ = client.Close() }
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), commandTimeout)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Ask every running engine to rebuild its schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := events.NewBus(client).PublishConfigChanged(ctx); err != nil {
				return fmt.Errorf("publish refresh: %w", err)
			}
			fmt.Println("Refresh requested")
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and per company outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			stats, err := queue.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Pending:    %d\n", stats.Pending)
			fmt.Printf("Processing: %d\n", stats.Processing)
			fmt.Printf("Delayed:    %d\n", stats.Delayed)
			fmt.Printf("Dead:       %d\n", stats.Dead)

			counters := metrics.New(client)
			reset, _ := cmd.Flags().GetBool("reset")

			perOutcome := make(map[string]map[string]int64, len(metrics.Outcomes))
			if reset {
				for _, outcome := range metrics.Outcomes {
					counts, err := counters.Drain(ctx, outcome)
					if err != nil {
						return err
					}
					perOutcome[outcome] = counts
				}
			} else {
				perOutcome, err = counters.Snapshot(ctx)
				if err != nil {
					return err
				}
			}

			printOutcomes(perOutcome)
			if reset {
				fmt.Println("\nCounters reset")
			}
			return nil
		},
	}
	cmd.Flags().Bool("reset", false, "Reset the outcome counters after reading them")
	return cmd
}

func printOutcomes(perOutcome map[string]map[string]int64) {
	companies := map[string]struct{}{}
	for _, counts := range perOutcome {
		for company := range counts {
			companies[company] = struct{}{}
		}
	}
	if len(companies) == 0 {
		fmt.Println("\nNo outcomes recorded")
		return
	}

	ids := make([]string, 0, len(companies))
	for id := range companies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "COMPANY\t"+strings.ToUpper(strings.Join(metrics.Outcomes, "\t")))
	for _, id := range ids {
		row := []string{id}
		for _, outcome := range metrics.Outcomes {
			row = append(row, fmt.Sprintf("%d", perOutcome[outcome][id]))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func schedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List registered recurring schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			entries, err := scheduler.LoadEntries(ctx, client)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No schedules registered")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPATTERN\tCOMPANY\tTYPE\tREGISTERED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Pattern, e.CompanyID, e.SyncType, e.RegisteredAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			offset, _ := cmd.Flags().GetInt64("offset")
			limit, _ := cmd.Flags().GetInt64("limit")
			jobs, err := queue.ListDeadLetters(ctx, offset, limit)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(jobs)
			}
			if len(jobs) == 0 {
				fmt.Println("No dead letters")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tCOMPANY\tATTEMPTS\tERROR")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", job.ID, job.Type, job.CompanyID, job.Attempts, job.ErrorMsg)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64("offset", 0, "Skip this many dead letters")
	cmd.Flags().Int64P("limit", "n", 50, "Maximum results")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Re-queue a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			job, err := queue.RetryDeadLetter(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Re-queued %s (%s, company %s)\n", job.ID, job.Type, job.CompanyID)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [job-id]",
		Short: "Drop a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := queue.DeleteDeadLetter(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job [job-id]",
		Short: "Show a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			job, err := queue.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "trigger [company-id] [member|deposit]",
		Short:     "Queue a batch sync for one company",
		Long:      "Queue a batch sync for one company. Unknown or disabled companies are skipped by the worker.",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{models.SyncTypeMember, models.SyncTypeDeposit},
		RunE: func(cmd *cobra.Command, args []string) error {
			companyID, syncType := args[0], args[1]
			if syncType != models.SyncTypeMember && syncType != models.SyncTypeDeposit {
				return fmt.Errorf("unsupported sync type %q", syncType)
			}

			_, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			job := jobqueue.NewJob(jobqueue.JobTypeCompanyBatch, companyID, jobqueue.SourceManual)
			job.ID = jobqueue.ManualJobID(syncType)
			job.SyncType = syncType
			if err := queue.Enqueue(ctx, job); err != nil {
				return err
			}
			fmt.Printf("Queued %s\n", job.ID)
			return nil
		},
	}
}

func masterTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "master-trigger",
		Short: "Queue a sync of every enabled company",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, queue, closeFn := connect()
			defer closeFn()
			ctx, cancel := commandContext(cmd)
			defer cancel()

			job := jobqueue.NewJob(jobqueue.JobTypeMasterTrigger, "", jobqueue.SourceManual)
			job.ID = jobqueue.ManualJobID("master")
			if err := queue.Enqueue(ctx, job); err != nil {
				return err
			}
			fmt.Printf("Queued %s\n", job.ID)
			return nil
		},
	}
}
