package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rrens/secassist/internal/app"
	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/service"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	var (
		sessionID     string
		vulnerability string
	)

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask the assistant a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if sessionID == "" {
				var meta map[string]any
				if vulnerability != "" {
					meta = map[string]any{domain.MetaVulnerability: vulnerability}
				}
				sessionID = a.Store.Create(domain.SessionTypeQA, "", meta).ID
			}

			return ask(ctx, a, sessionID, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	cmd.Flags().StringVar(&vulnerability, "vulnerability", "", "vulnerability context for a new session")
	return cmd
}

// ask submits text and copies the streamed answer to out as it grows
func ask(ctx context.Context, a *app.App, sessionID, text string, out io.Writer) error {
	snapshots, unsubscribe := a.Store.Subscribe(64)
	defer unsubscribe()

	seen := map[string]bool{}
	if sess, ok := a.Store.Get(sessionID); ok {
		for _, m := range sess.Messages {
			seen[m.ID] = true
		}
	}

	done := make(chan error, 1)
	go func() { done <- a.Chat.Submit(ctx, sessionID, text) }()

	printed := 0
	emit := func(sess domain.ChatSession) {
		for _, m := range sess.Messages {
			if m.Role != domain.RoleAssistant || seen[m.ID] {
				continue
			}
			if len(m.Content) > printed {
				fmt.Fprint(out, m.Content[printed:])
				printed = len(m.Content)
			}
			return
		}
	}

	for {
		select {
		case snap := <-snapshots:
			for _, s := range snap.Sessions {
				if s.ID == sessionID {
					emit(s)
				}
			}
		case err := <-done:
			if sess, ok := a.Store.Get(sessionID); ok {
				emit(sess)
			}
			fmt.Fprintln(out)
			if errors.Is(err, service.ErrInputNotAllowed) {
				return fmt.Errorf("session %s is managed by the fix agent and does not take questions", sessionID)
			}
			if err != nil {
				return err
			}
			if sess, _ := a.Store.Get(sessionID); sess.Status == domain.StatusError {
				return fmt.Errorf("request failed, see session %s", sessionID)
			}
			return nil
		}
	}
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
	}
}
