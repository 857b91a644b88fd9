package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/config"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/jobstore"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/logger"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/notify"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/runstore"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/court-booking-orchestrator/tui"
	"github.com/hochfrequenz/court-booking-orchestrator/web/api"
)

var (
	servePort int
	runsLimit int
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	// runs command
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Show run history",
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// setup loads the config, starts logging and makes sure the data
// directories exist.
func setup() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.Logging.JSON, cfg.Logging.Level); err != nil {
		return nil, errors.Wrap(err, "initializing logger")
	}
	for _, dir := range []string{cfg.General.DataDir, cfg.RunsDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}
	return cfg, nil
}

func launcherConfig(cfg *config.Config) executor.LauncherConfig {
	return executor.LauncherConfig{
		Command:        cfg.Worker.Command,
		Args:           cfg.Worker.Args,
		Dir:            cfg.Worker.Dir,
		PayloadDir:     cfg.RunsDir(),
		PayloadEnv:     cfg.Worker.PayloadEnv,
		DryRunArg:      cfg.Worker.DryRunArg,
		TerminateGrace: cfg.Worker.TerminateGrace.Duration,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logger.Named("serve")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs := jobstore.New(cfg.General.JobsPath)
	history, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer history.Close()

	if n, err := history.MarkInterrupted(time.Now()); err != nil {
		log.Warnw("closing interrupted runs failed", "error", err)
	} else if n > 0 {
		log.Infow("closed runs interrupted by the last shutdown", "count", n)
	}

	events := broadcast.New()
	var server *api.Server
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
			OnStart:       func(req executor.Request) { server.RunStarted(req) },
			OnFinish:      func(req executor.Request, res domain.RunResult) { server.RunFinished(req, res) },
		},
	)

	opts := api.Options{
		Jobs:      jobs,
		Executor:  exec,
		Events:    events,
		History:   history,
		StaticDir: cfg.Web.StaticDir,
		Logger:    logger.Named("api"),
	}

	var ticker *scheduler.Ticker
	if cfg.Scheduler.Enabled {
		ticker = scheduler.NewTickerWithContext(ctx, jobs, exec, scheduler.TickerConfig{
			Interval:   cfg.Scheduler.Interval.Duration,
			RunOnStart: cfg.Scheduler.RunOnStart,
			Location:   loc,
		}, logger.Named("scheduler"))
		opts.Ticker = ticker
	}

	server = api.NewServer(ctx, opts)
	defer server.Close()

	watcher, err := jobstore.NewWatcher(cfg.General.JobsPath, func(path string) {
		server.Broadcast(api.SSEEvent{Type: "jobs_changed", Data: map[string]string{"path": path}})
	}, logger.Named("watcher"))
	if err != nil {
		log.Warnw("jobs file watcher disabled", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	if ticker != nil {
		if list, err := jobs.List(); err == nil {
			for _, u := range scheduler.UpcomingJobs(list, time.Now().In(loc)) {
				log.Infow("reservation scheduled", "job_id", u.Job.ID, "summary", u.Job.Summary(), "next_run", u.Next)
			}
		}
		ticker.Start()
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	log.Infow("court orchestrator starting",
		"addr", addr,
		"jobs", cfg.General.JobsPath,
		"scheduler", cfg.Scheduler.Enabled,
		"timezone", loc.String(),
	)

	serveErr := server.Serve(ctx, addr)

	stop()
	if ticker != nil {
		ticker.Stop()
	}
	exec.Wait()
	log.Infow("court orchestrator stopped")
	return serveErr
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	history, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer history.Close()

	runs, err := history.List(runstore.ListOptions{Limit: runsLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tJOB\tORIGIN\tOUTCOME\tEXIT\tSTARTED\tDURATION")
	for _, r := range runs {
		outcome, exit := "running", "-"
		if r.Finished() {
			outcome = string(r.Outcome)
			exit = fmt.Sprintf("%d", r.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.JobID, r.Origin, outcome, exit,
			humanize.Time(r.StartedAt), r.Duration().Round(time.Second))
	}
	w.Flush()

	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	// no logger setup: log lines would tear the screen
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.General.DataDir, 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", cfg.General.DataDir)
	}

	jobs := jobstore.New(cfg.General.JobsPath)
	history, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer history.Close()

	load := func() (tui.Snapshot, error) {
		list, err := jobs.List()
		if err != nil {
			return tui.Snapshot{}, err
		}
		runs, err := history.List(runstore.ListOptions{Limit: 20})
		if err != nil {
			return tui.Snapshot{}, err
		}
		return tui.Snapshot{Jobs: list, Runs: runs}, nil
	}

	p := tea.NewProgram(tui.NewModel(load), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
