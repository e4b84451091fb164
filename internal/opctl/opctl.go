// Package opctl implements the operator runbook commands from spec.md §8:
// inspecting and replaying dead-letter entries without hand-written Redis
// commands. It is deliberately thin — the hard DLQ logic (byte-for-byte
// payload preservation, ack bookkeeping) already lives in bus.Bus; this
// package is just a command-line front door onto it.
package opctl

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/romiteld/crm-sync-engine/internal/bus"
)

// Runner executes one opctl subcommand against a live Bus, writing
// human-readable output to out.
type Runner struct {
	Bus bus.Bus
	Out io.Writer
}

// Run dispatches args[0] (the subcommand) to its handler. It mirrors the
// standard library's own "go" tool shape — a flat set of verbs, each with
// its own flag.FlagSet — rather than pulling in a CLI framework nothing
// else in the module uses.
func (r *Runner) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("opctl: missing subcommand (expected one of: dlq-list, dlq-replay, dlq-purge)")
	}
	switch args[0] {
	case "dlq-list":
		return r.dlqList(ctx, args[1:])
	case "dlq-replay":
		return r.dlqReplay(ctx, args[1:])
	case "dlq-purge":
		return r.dlqPurge(ctx, args[1:])
	default:
		return fmt.Errorf("opctl: unknown subcommand %q", args[0])
	}
}

func (r *Runner) dlqList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dlq-list", flag.ContinueOnError)
	stream := fs.String("stream", "", "stream name whose DLQ to list")
	limit := fs.Int64("limit", 50, "max entries to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" {
		return fmt.Errorf("opctl: dlq-list requires -stream")
	}

	entries, err := r.Bus.ListDLQ(ctx, *stream, *limit)
	if err != nil {
		return fmt.Errorf("opctl: list dlq: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintf(r.Out, "%s: dead-letter queue is empty\n", *stream)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(r.Out, "%s\tattempt=%d\tenqueued=%s\t%s\n", e.ID, e.DeliveryAttempt, e.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"), e.Payload)
	}
	return nil
}

func (r *Runner) dlqReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	stream := fs.String("stream", "", "stream name whose DLQ to replay")
	limit := fs.Int64("limit", 10, "max entries to requeue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" {
		return fmt.Errorf("opctl: dlq-replay requires -stream")
	}

	n, err := r.Bus.ReplayDLQ(ctx, *stream, *limit)
	if err != nil {
		return fmt.Errorf("opctl: replay dlq: %w", err)
	}
	fmt.Fprintf(r.Out, "%s: requeued %d entr%s\n", *stream, n, plural(n))
	return nil
}

func (r *Runner) dlqPurge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dlq-purge", flag.ContinueOnError)
	stream := fs.String("stream", "", "stream name whose DLQ to purge")
	confirm := fs.Bool("yes", false, "required: confirms permanent deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" {
		return fmt.Errorf("opctl: dlq-purge requires -stream")
	}
	if !*confirm {
		return fmt.Errorf("opctl: dlq-purge is destructive, pass -yes to confirm")
	}

	n, err := r.Bus.PurgeDLQ(ctx, *stream)
	if err != nil {
		return fmt.Errorf("opctl: purge dlq: %w", err)
	}
	fmt.Fprintf(r.Out, "%s: purged %d entr%s\n", *stream, n, plural(n))
	return nil
}

func plural[T int | int64](n T) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
