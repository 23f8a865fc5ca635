package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ai-voice-dialogue-service/internal/app"
	"ai-voice-dialogue-service/internal/service/latency"
	"ai-voice-dialogue-service/internal/service/session"
)

func newMetricsCmd(opts *options) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print an aggregated latency and error report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := latency.NewStore(opts.storage().MetricsDir())
			report, err := store.ReportDays(days, time.Now())
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to include, ending today")
	return cmd
}

func newConversationsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations <project-path>",
		Short: "List a project's conversations, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := session.NewManager(opts.storage().SessionsDir())
			convs, err := mgr.ListConversations(args[0])
			if err != nil {
				return fmt.Errorf("list conversations: %w", err)
			}
			if len(convs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSESSIONS\tCREATED\tLAST ACCESSED")
			for _, c := range convs {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					c.ID, c.SessionCount,
					c.CreatedAt.Local().Format(time.DateTime),
					c.LastAccessed.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newSessionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <project-path> <session-id>",
		Short: "Print a stored session as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := session.NewManager(opts.storage().SessionsDir())
			s, err := mgr.Load(args[0], args[1])
			if err != nil {
				return fmt.Errorf("load session %s: %w", args[1], err)
			}
			return writeJSON(cmd.OutOrStdout(), s.Record())
		},
	})
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the available STT, AI and TTS providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tREQUIRES\tDESCRIPTION")
			for _, p := range app.Providers() {
				requires := p.Requires
				if requires == "" {
					requires = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Kind, p.Name, requires, p.Description)
			}
			return tw.Flush()
		},
	}
}
