package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutorledger/tutorledger/internal/content"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/redemption"
	"github.com/tutorledger/tutorledger/jobs"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				applied, err := b.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, map[string]any{"applied": applied}, func(w io.Writer) {
					for _, name := range applied {
						printf(w, "applied %s\n", name)
					}
				})
			})
		},
	}
}

func newReconcileCommand(opts *RootOptions) *cobra.Command {
	var payload jobs.ReconcilePayload
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair attendance logs from the ledger",
		Long: `Repair attendance logs that drifted from the ledger.

Without --student every drifted student is repaired, at most --limit of them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if payload.StudentID < 0 || payload.Limit < 0 {
				return fmt.Errorf("--student and --limit must not be negative")
			}
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				summary, err := b.Reconcile(cmd.Context(), payload)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, summary, func(w io.Writer) {
					printf(w, "students=%d changed=%d added=%d removed=%d\n", summary.Students, summary.Changed, summary.Added, summary.Removed)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&payload.StudentID, "student", 0, "repair a single student")
	cmd.Flags().IntVar(&payload.Limit, "limit", 0, "maximum drifted students to repair")
	return cmd
}

func newCodesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Issue activation and view codes",
	}

	activation := &cobra.Command{
		Use:   "activation <student-id>",
		Short: "Issue or replace the activation code of a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseStudentID(args[0])
			if err != nil {
				return err
			}
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				code, err := b.IssueActivationCode(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return renderActivation(cmd.OutOrStdout(), opts.Format, code)
			})
		},
	}
	activation.AddCommand(&cobra.Command{
		Use:   "show <student-id>",
		Short: "Show the current activation code of a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseStudentID(args[0])
			if err != nil {
				return err
			}
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				code, err := b.ActivationCode(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return renderActivation(cmd.OutOrStdout(), opts.Format, code)
			})
		},
	})

	var (
		count int
		views int
		paid  bool
	)
	batch := &cobra.Command{
		Use:   "views",
		Short: "Issue a batch of view credit codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := redemption.IssueBatchInput{Count: count, Views: views, IssuedBy: cliActor, PaymentState: redemption.PaymentUnpaid}
			if paid {
				input.PaymentState = redemption.PaymentPaid
			}
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				out, err := b.IssueViewCodes(cmd.Context(), input)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) {
					printf(w, "batch %s\n", out.ID)
					for _, vc := range out.Codes {
						printf(w, "%s\t%d\n", vc.Code, vc.RemainingViews)
					}
				})
			})
		},
	}
	batch.Flags().IntVar(&count, "count", 10, "number of codes")
	batch.Flags().IntVar(&views, "views", 1, "views per code")
	batch.Flags().BoolVar(&paid, "paid", false, "mark the batch as paid")

	cmd.AddCommand(activation, batch)
	return cmd
}

func parseStudentID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(raw, &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid student id %q", raw)
	}
	return id, nil
}

func renderActivation(w io.Writer, format string, code redemption.ActivationCode) error {
	return render(w, format, code, func(w io.Writer) {
		state := "pending"
		if code.Activated {
			state = "activated"
		}
		printf(w, "%d\t%s\t%s\n", code.OwnerStudentID, code.Code, state)
	})
}

func newCreditsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Manage session credits",
	}
	var (
		input     credit.SetInput
		purchased string
	)
	set := &cobra.Command{
		Use:   "set <student-id>",
		Short: "Overwrite the credit account of a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStudentID(args[0])
			if err != nil {
				return err
			}
			input.StudentID = id
			if purchased != "" {
				at, err := time.Parse(time.DateOnly, purchased)
				if err != nil {
					return fmt.Errorf("invalid --purchased %q: want YYYY-MM-DD", purchased)
				}
				input.PurchasedAt = at
			}
			input.ActorID = cliActor
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				acc, err := b.SetCredits(cmd.Context(), input)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, acc, func(w io.Writer) {
					printf(w, "student %d: %d sessions remaining\n", acc.StudentID, acc.Remaining)
				})
			})
		},
	}
	set.Flags().IntVar(&input.Remaining, "remaining", 0, "remaining sessions")
	set.Flags().Float64Var(&input.Cost, "cost", 0, "amount paid")
	set.Flags().StringVar(&input.Comment, "comment", "", "operator note")
	set.Flags().StringVar(&purchased, "purchased", "", "purchase date (YYYY-MM-DD)")
	_ = set.MarkFlagRequired("remaining")

	cmd.AddCommand(set)
	return cmd
}

func newContentCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Maintain the content catalog",
	}
	var (
		item content.Content
		key  string
	)
	set := &cobra.Command{
		Use:   "set <content-id>",
		Short: "Create or update a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscan(args[0], &item.ID); err != nil || item.ID <= 0 {
				return fmt.Errorf("invalid content id %q", args[0])
			}
			parsed, err := period.Parse(strings.TrimSpace(key))
			if err != nil {
				return err
			}
			item.Period = parsed
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				if err := b.UpsertContent(cmd.Context(), item); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, map[string]any{"id": item.ID, "period": item.Period.String(), "free": item.Free}, func(w io.Writer) {
					printf(w, "content %d -> %s\n", item.ID, item.Period)
				})
			})
		},
	}
	set.Flags().StringVar(&key, "period", "", "period key (lesson:<name> or week:<n>)")
	set.Flags().BoolVar(&item.Free, "free", false, "free content")
	set.Flags().StringVar(&item.Title, "title", "", "title")
	_ = set.MarkFlagRequired("period")

	cmd.AddCommand(set)
	return cmd
}

func newJobsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	trigger := &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskAttendanceReconcile, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				info, err := b.TriggerJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, map[string]string{"id": info.ID, "queue": info.Queue, "type": info.Type}, func(w io.Writer) {
					printf(w, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
				})
			})
		},
	}
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				s, err := b.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, s, func(w io.Writer) {
					printf(w, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
				})
			})
		},
	}
	cmd.AddCommand(trigger, stats)
	return cmd
}
