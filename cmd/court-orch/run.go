package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/jobstore"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/logger"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/notify"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/runstore"
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run ID",
		Short: "Run a reservation now and stream the worker output",
		Long: `Run starts the booking worker for a stored reservation in the foreground.
Worker output is printed as it arrives. Ctrl-C cancels the run.
The command exits non-zero unless the booking succeeded.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	jobs := jobstore.New(cfg.General.JobsPath)
	job, err := jobs.Get(args[0])
	if err != nil {
		return err
	}

	history, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer history.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := broadcast.New()
	exec := executor.New(
		executor.NewProcessLauncher(launcherConfig(cfg)),
		executor.NewRegistry(),
		events,
		jobs,
		executor.Options{
			SuccessMarker: cfg.Worker.SuccessMarker,
			Runs:          history,
			Notifier:      notify.FromConfig(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook),
			Logger:        logger.Named("executor"),
		},
	)

	req := executor.RequestForJob(job, job.ID, domain.OriginCLI)
	sub := events.Subscribe(req.RunID)
	defer sub.Close()

	done := make(chan domain.RunResult, 1)
	go func() {
		done <- exec.Execute(ctx, req)
	}()

	printEvents(os.Stdout, sub)
	res := <-done

	if !res.Success() {
		return errors.Newf("reservation %s: run %s (exit code %d)", job.ID, res.Outcome, res.ExitCode)
	}
	fmt.Printf("Reservation %s booked: %s\n", job.ID, job.Summary())
	return nil
}

// printEvents writes a run's events to w until the stream ends
func printEvents(w io.Writer, sub *broadcast.Subscription) {
	for {
		ev, ok := sub.Next(context.Background())
		if !ok {
			return
		}
		switch ev.Type {
		case domain.EventLog:
			prefix := "  "
			if ev.Stream == domain.StreamStderr {
				prefix = "! "
			}
			fmt.Fprintf(w, "%s%s\n", prefix, ev.Message)
		case domain.EventNotice:
			fmt.Fprintf(w, "> %s\n", ev.Message)
		case domain.EventResult:
			fmt.Fprintf(w, "> run %s", ev.Outcome)
			if ev.ExitCode != nil {
				fmt.Fprintf(w, " (exit code %d)", *ev.ExitCode)
			}
			fmt.Fprintln(w)
			if ev.Message != "" && (ev.Success == nil || !*ev.Success) {
				fmt.Fprintf(w, "> %s\n", ev.Message)
			}
		case domain.EventEnd:
			return
		}
	}
}
