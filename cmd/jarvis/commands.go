package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"jarvis-shell/internal/config"
	"jarvis-shell/internal/executor"
	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/pipeline"
	"jarvis-shell/internal/profile"
	"jarvis-shell/internal/ui"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jarvis",
		Short: "Jarvis - plain English to native shell commands",
		Long: "Jarvis turns a plain-English request or a command from either shell family into\n" +
			"one native command for this machine, then runs it.",
		Args:          cobra.NoArgs,
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newResolveCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newProfileCmd())
	return root
}

func runTUI(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd, setupOptions{model: true})
	if err != nil {
		return err
	}
	defer a.close()

	m := ui.NewModel(cmd.Context(), a.session, a.executor.WorkingDir())
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

	if config.Watch(a.v, func(cfg *config.Config) {
		a.applyConfig(cfg, func(p *profile.Profile) { prog.Send(ui.ProfileChangedMsg{Profile: p}) })
	}) {
		logger.Info("Watching %s for changes", a.cfg.File)
	}

	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && cmd.Context().Err() == nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "👋 Jarvis closed. Cache saved.")
	return nil
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [request]",
		Short: "Print the native command for a request without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, setupOptions{model: true})
			if err != nil {
				return err
			}
			defer a.close()

			out, err := a.pipeline.Resolve(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return userError(err)
			}
			if out.State == pipeline.Exit {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Result.Command)
			fmt.Fprintf(cmd.ErrOrStderr(), "(%s)\n", out.Result.Source)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Resolve a request and run the native command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, setupOptions{model: true})
			if err != nil {
				return err
			}
			defer a.close()

			stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
			events := a.session.Submit(cmd.Context(), strings.Join(args, " "))
			for {
				code, confirm, err := drain(events, stdout, stderr)
				if err != nil || confirm == "" {
					if err == nil && code != 0 {
						return &exitError{code: code}
					}
					return userError(err)
				}
				if !yes {
					return fmt.Errorf("refusing to run %q without --yes", confirm)
				}
				events = a.session.Execute(cmd.Context(), confirm)
			}
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "run commands that need confirmation")
	return cmd
}

// drain prints a request's events. It returns the command awaiting
// confirmation, if any, or the exit code of the command that ran.
func drain(events <-chan pipeline.Event, stdout, stderr io.Writer) (code int, confirm string, err error) {
	for ev := range events {
		switch ev.Type {
		case pipeline.EventResolved:
			fmt.Fprintf(stderr, "→ %s\n", ev.Command)
		case pipeline.EventOutput:
			w := stdout
			if ev.Line.Stream == executor.Stderr {
				w = stderr
			}
			fmt.Fprintln(w, ev.Line.Text)
		case pipeline.EventDone:
			code = ev.ExitCode
			if ev.Result != nil && !ev.Result.Success && ev.Result.Error != "" {
				fmt.Fprintln(stderr, ev.Result.Error)
			}
		case pipeline.EventConfirm:
			fmt.Fprintln(stderr, ev.Reason)
			confirm = ev.Command
		case pipeline.EventUnresolved, pipeline.EventCancelled:
			err = ev.Err
		}
	}
	return code, confirm, err
}

// userError drops the internal cause from resolution errors; it is in the log.
func userError(err error) error {
	var re *pipeline.ResolutionError
	if errors.As(err, &re) {
		return errors.New(re.Message)
	}
	return err
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persisted resolution cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached commands, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, setupOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			entries := a.cache.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "cache is empty")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REQUEST\tCOMMAND\tSOURCE\tLAST USED")
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Key, e.Command, e.Source, e.LastUsed.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the active profile's cached commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, setupOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			n := a.cache.Len()
			a.cache.InvalidateAll()
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached commands\n", n)
			return nil
		},
	})
	return cmd
}

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect platform profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active profile's shell and canonical actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, setupOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			p := a.profile
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s)\n", p.DisplayName, p.ID)
			fmt.Fprintf(w, "shell: %s\n", strings.Join(p.Shell, " "))
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, act := range p.Actions() {
				tmpl, _ := p.Template(act)
				fmt.Fprintf(tw, "  %s\t%s\n", act, tmpl)
			}
			return tw.Flush()
		},
	})
	return cmd
}
