package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/trackerbridge/internal/tracker"
)

func newMeCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show the authenticated tracker user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				user, err := c.CurrentUser(cmd.Context(), force)
				if err != nil {
					return err
				}
				return writeJSON(cmd, user)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Send even while access is blocked")
	return cmd
}

func newStatusesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "List workflow statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				statuses, err := c.ListStatuses(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, statuses)
			})
		},
	}
}

func newFieldsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List tracker field definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				fields, err := c.ListFields(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, fields)
			})
		},
	}
}

func newIssueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <id>",
		Short: "Show one issue with its changelog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				issue, err := c.Issue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, issue)
			})
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var autoImport bool
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search issues, or run the configured auto import query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				if autoImport {
					issues, err := c.FindAutoImportIssues(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(cmd, issues)
				}
				if len(args) == 0 {
					return errors.New("search text required")
				}
				results, err := c.SearchIssues(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, results)
			})
		},
	}
	cmd.Flags().BoolVar(&autoImport, "auto-import", false, "Run the auto import query instead of a text search")
	return cmd
}

func newTransitionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <id>",
		Short: "List transitions available for an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				transitions, err := c.Transitions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, transitions)
			})
		},
	}
}

func newTransitionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <id> <transition-id>",
		Short: "Move an issue through a transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				if err := c.TransitionIssue(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s transitioned via %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newAssignCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <account-id>",
		Short: "Assign an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				if err := c.UpdateAssignee(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s assigned to %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newWorklogCommand(ctx *commandContext) *cobra.Command {
	var (
		spent   time.Duration
		comment string
		started string
	)
	cmd := &cobra.Command{
		Use:   "worklog <id>",
		Short: "Book time on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if spent <= 0 {
				return errors.New("--spent must be positive")
			}
			start := time.Now().Add(-spent)
			if started != "" {
				t, err := time.Parse(time.RFC3339, started)
				if err != nil {
					return fmt.Errorf("invalid --started: %w", err)
				}
				start = t
			}
			return ctx.withClient(cmd.Context(), func(c *tracker.Client) error {
				return c.AddWorklog(cmd.Context(), tracker.Worklog{
					IssueID:   args[0],
					Started:   start,
					TimeSpent: spent,
					Comment:   comment,
				})
			})
		},
	}
	cmd.Flags().DurationVar(&spent, "spent", 0, "Time spent, e.g. 1h30m")
	cmd.Flags().StringVar(&comment, "comment", "", "Worklog comment")
	cmd.Flags().StringVar(&started, "started", "", "Start time in RFC3339 (default: now minus --spent)")
	return cmd
}

func newGuardCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Inspect or reset the access guard",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether tracker access is blocked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := ctx.guard(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]bool{"blocked": g.IsBlocked()})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unblock",
		Short: "Allow tracker requests again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := ctx.guard(cmd.Context())
			if err != nil {
				return err
			}
			g.Unblock()
			fmt.Fprintln(cmd.OutOrStdout(), "tracker access unblocked")
			return nil
		},
	})

	return cmd
}
