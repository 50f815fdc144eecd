package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/repository"
	"github.com/Rrens/secassist/internal/session"
)

func newSessionsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted chat sessions",
	}

	cmd.AddCommand(newSessionsListCmd(flags))
	cmd.AddCommand(newSessionsShowCmd(flags))
	return cmd
}

func loadState(ctx context.Context, flags *globalFlags) (session.State, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return session.State{}, err
	}
	if cfg.Storage.Backend == config.BackendRedis {
		return session.State{}, fmt.Errorf("the redis backend is only readable through the server")
	}

	p, err := repository.OpenPersister(ctx, cfg.Storage, nil)
	if err != nil {
		return session.State{}, err
	}
	defer p.Close()
	return p.Load(ctx)
}

func newSessionsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadState(cmd.Context(), flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(state.Sessions) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTIVE\tID\tTYPE\tSTATUS\tMESSAGES\tUPDATED\tTITLE")
			for _, s := range state.Sessions {
				active := ""
				if s.ID == state.ActiveSessionID {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					active, s.ID, s.Type, s.Status, len(s.Messages), s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
			}
			return tw.Flush()
		},
	}
}

func newSessionsShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadState(cmd.Context(), flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range state.Sessions {
				if s.ID != args[0] {
					continue
				}
				fmt.Fprintf(out, "%s (%s, %s)\n\n", s.Title, s.Type, s.Status)
				for _, m := range s.Messages {
					fmt.Fprintf(out, "[%s] %s\n%s\n\n", m.CreatedAt.Local().Format("15:04:05"), m.Role, m.Content)
				}
				return nil
			}
			return fmt.Errorf("session %s not found", args[0])
		},
	}
}
