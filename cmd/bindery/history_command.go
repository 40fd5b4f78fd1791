package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/history"
)

func newHistoryCommand(cmdCtx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversions recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				rows = append(rows, []string{
					record.JobID,
					record.ModuleID,
					string(record.Status),
					strconv.Itoa(record.ProgressPercent) + "%",
					strconv.Itoa(record.Attempts),
					record.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Module", "Status", "Progress", "Attempts", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records to show")
	return cmd
}

func newShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one conversion job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:      %s\n", record.JobID)
			fmt.Fprintf(out, "Module:   %s\n", record.ModuleID)
			fmt.Fprintf(out, "PDF:      %s\n", record.PDFPath)
			fmt.Fprintf(out, "Status:   %s\n", record.Status)
			fmt.Fprintf(out, "Progress: %d%% %s\n", record.ProgressPercent, record.ProgressMessage)
			fmt.Fprintf(out, "Attempts: %d\n", record.Attempts)
			if record.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:    %s\n", record.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:  %s\n", record.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Updated:  %s\n", record.UpdatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
}
