package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joss/turnpool/internal/archive"
	"github.com/joss/turnpool/internal/config"
)

func checkpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect the turn checkpoint archive",
	}

	cmd.AddCommand(
		checkpointsListCmd(),
		checkpointsShowCmd(),
		checkpointsStatsCmd(),
	)
	return cmd
}

func openArchive() *archive.Store {
	store, err := archive.Open(config.GetPaths().Data)
	if err != nil {
		exitOnError("archive_open_failed", err)
	}
	return store
}

func checkpointsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [thread-id]",
		Short: "List recent checkpoints, optionally for one thread",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			store := openArchive()
			defer store.Close()

			var (
				list []*archive.Checkpoint
				err  error
			)
			if len(args) == 1 {
				thread, perr := uuid.Parse(args[0])
				if perr != nil {
					fatalErrorf("invalid thread id %q: %v", args[0], perr)
				}
				list, err = store.ListThread(cmd.Context(), thread, limit)
			} else {
				list, err = store.ListRecent(cmd.Context(), limit)
			}
			if err != nil {
				exitOnError("checkpoint_list_failed", err)
			}
			emit(list, func() string { return renderer().Checkpoints(list) })
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum checkpoints to show")
	return cmd
}

func checkpointsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread-id> <turn-id>",
		Short: "Show one checkpoint",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			thread, err := uuid.Parse(args[0])
			if err != nil {
				fatalErrorf("invalid thread id %q: %v", args[0], err)
			}
			turn, err := uuid.Parse(args[1])
			if err != nil {
				fatalErrorf("invalid turn id %q: %v", args[1], err)
			}

			store := openArchive()
			defer store.Close()

			c, err := store.Get(cmd.Context(), thread, turn)
			if archive.IsNotFound(err) {
				fatalErrorf("no checkpoint for turn %s", turn)
			}
			if err != nil {
				exitOnError("checkpoint_get_failed", err)
			}
			emit(c, func() string { return renderer().Checkpoint(c) })
		},
	}
}

func checkpointsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count checkpoints by status",
		Run: func(cmd *cobra.Command, args []string) {
			store := openArchive()
			defer store.Close()

			counts, err := store.CountByStatus(cmd.Context())
			if err != nil {
				exitOnError("checkpoint_stats_failed", err)
			}
			emit(counts, func() string { return renderer().StatusCounts(counts) })
		},
	}
}
