package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rrens/secassist/internal/app"
	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/workspace"
)

type fixOptions struct {
	line     int
	endLine  int
	message  string
	code     string
	language string
	yes      bool
}

func newFixCmd(flags *globalFlags) *cobra.Command {
	opts := &fixOptions{}

	cmd := &cobra.Command{
		Use:   "fix <file>",
		Short: "Run the fix agents on a finding in a workspace file",
		Long: "Runs the propose and review loop for one finding. The approved change is shown " +
			"and only written after confirmation (or with --yes).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.line < 1 {
				return fmt.Errorf("--line must be 1 or greater")
			}
			if opts.endLine < opts.line {
				opts.endLine = opts.line
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			doc, err := workspace.Open(cfg.Workspace.Root, args[0], opts.language)
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

			diag := domain.Diagnostic{
				Range: domain.Range{
					Start: domain.Position{Line: opts.line - 1},
					End:   domain.Position{Line: opts.endLine - 1, Character: len(doc.LineAt(opts.endLine - 1))},
				},
				Message: opts.message,
				Code:    opts.code,
				Source:  "assistctl",
			}

			out := cmd.OutOrStdout()
			confirmer := promptConfirmer(cmd.InOrStdin(), out, opts.yes)
			outcome, err := a.Fixes.Run(ctx, doc, diag, confirmer)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Result: %s after %d attempt(s) (session %s)\n", outcome.Result, outcome.Attempts, outcome.SessionID)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.line, "line", "l", 0, "one-based line of the finding")
	cmd.Flags().IntVar(&opts.endLine, "end-line", 0, "one-based last line of the finding")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "finding description")
	cmd.Flags().StringVar(&opts.code, "code", "", "finding code, e.g. CWE-89")
	cmd.Flags().StringVar(&opts.language, "language", "", "language id (derived from the extension by default)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "apply an approved fix without asking")
	_ = cmd.MarkFlagRequired("line")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// promptConfirmer shows the approved change and reads y/N from in
func promptConfirmer(in io.Reader, out io.Writer, assumeYes bool) service.Confirmer {
	reader := bufio.NewReader(in)
	return service.ConfirmFunc(func(ctx context.Context, p domain.FixProposal) (bool, error) {
		fmt.Fprintf(out, "\nApproved fix for %s lines %d-%d (attempt %d)\n", p.FilePath, p.Range.Start.Line+1, p.Range.End.Line+1, p.Attempt)
		if p.Notes != "" {
			fmt.Fprintf(out, "Reviewer notes: %s\n", p.Notes)
		}
		fmt.Fprintf(out, "--- original\n%s\n+++ proposed\n%s\n", p.Original, p.Replacement)

		if assumeYes {
			return true, nil
		}

		fmt.Fprint(out, "Apply this change? [y/N] ")
		answer, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes", nil
	})
}
