package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/jobstore"
)

var (
	listStatus string

	addDate     string
	addHour     string
	addLocation string
	addPrice    string
	addCourt    string
	addAt       string
	addEmail    string
	addPassword string
	addPlayers  []string
	addDryRun   bool
)

func init() {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"reservations"},
		Short:   "Manage reservations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations",
		RunE:  runJobsList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, started, ok, failed)")
	jobsCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one reservation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsShow,
	}
	jobsCmd.AddCommand(showCmd)

	defaults := domain.DefaultForm()
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a reservation",
		RunE:  runJobsAdd,
	}
	addCmd.Flags().StringVar(&addDate, "date", "", "day to book, e.g. 2026-05-02")
	addCmd.Flags().StringVar(&addHour, "hour", defaults.Hour, "hour to book")
	addCmd.Flags().StringVar(&addLocation, "location", defaults.Location, "court location")
	addCmd.Flags().StringVar(&addPrice, "price-type", defaults.PriceType[0], "price type")
	addCmd.Flags().StringVar(&addCourt, "court-type", defaults.CourtType[0], "court type")
	addCmd.Flags().StringVar(&addAt, "at", "", "time of day to run the booking (HH:MM)")
	addCmd.Flags().StringVar(&addEmail, "email", "", "account email")
	addCmd.Flags().StringVar(&addPassword, "password", "", "account password")
	addCmd.Flags().StringArrayVar(&addPlayers, "player", nil, `player name "First Last" (repeatable)`)
	addCmd.Flags().BoolVar(&addDryRun, "dry-run", false, "run the worker without confirming the booking")
	addCmd.MarkFlagRequired("date")
	jobsCmd.AddCommand(addCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a reservation",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsDelete,
	}
	jobsCmd.AddCommand(deleteCmd)

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Add reservations from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsImport,
	}
	jobsCmd.AddCommand(importCmd)

	rootCmd.AddCommand(jobsCmd)
}

func openJobs() (*jobstore.Store, error) {
	cfg, err := setup()
	if err != nil {
		return nil, err
	}
	return jobstore.New(cfg.General.JobsPath), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	store, err := openJobs()
	if err != nil {
		return err
	}

	jobs, err := store.List()
	if err != nil {
		return err
	}
	jobs = filterByStatus(jobs, domain.JobStatus(listStatus))
	if len(jobs) == 0 {
		fmt.Println("No reservations")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDATE\tHOUR\tLOCATION\tAT\tNEXT RUN")
	for _, j := range jobs {
		at, next := "-", "-"
		if j.ScheduledTime != "" {
			at = j.ScheduledTime
		}
		if t, ok := j.NextRun(now); ok {
			next = humanize.Time(t)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, j.Date, j.Hour, j.Location, at, next)
	}
	w.Flush()

	return nil
}

func filterByStatus(jobs []domain.Job, status domain.JobStatus) []domain.Job {
	if status == "" {
		return jobs
	}
	var out []domain.Job
	for _, j := range jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, err := openJobs()
	if err != nil {
		return err
	}

	job, err := store.Get(args[0])
	if err != nil {
		return err
	}
	if job.Account != nil && job.Account.Password != "" {
		job.Account.Password = "********"
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	job, err := jobFromFlags()
	if err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}

	store, err := openJobs()
	if err != nil {
		return err
	}
	created, err := store.Insert(job)
	if err != nil {
		return err
	}

	fmt.Printf("Added reservation %s: %s\n", created.ID, created.Summary())
	if next, ok := created.NextRun(time.Now()); ok {
		fmt.Printf("Booking runs %s (%s)\n", humanize.Time(next), next.Format("Mon 15:04"))
	}
	return nil
}

func jobFromFlags() (domain.Job, error) {
	players, err := parsePlayers(addPlayers)
	if err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		ScheduledTime: addAt,
		Location:      addLocation,
		Date:          addDate,
		Hour:          addHour,
		PriceType:     addPrice,
		CourtType:     addCourt,
		Players:       players,
		DryRun:        addDryRun,
	}
	if addEmail != "" {
		job.Account = &domain.Account{Email: addEmail, Password: addPassword}
	}
	return job, nil
}

// parsePlayers turns "First Last" strings into players. A single word is
// taken as the first name.
func parsePlayers(names []string) ([]domain.Player, error) {
	players := []domain.Player{}
	for _, name := range names {
		fields := strings.Fields(name)
		if len(fields) == 0 {
			return nil, errors.NewValidationError("empty player name")
		}
		players = append(players, domain.Player{
			FirstName: fields[0],
			LastName:  strings.Join(fields[1:], " "),
		})
	}
	return players, nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	store, err := openJobs()
	if err != nil {
		return err
	}

	deleted, err := store.Delete(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted reservation %s: %s\n", deleted.ID, deleted.Summary())
	return nil
}

func runJobsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "reading %s", args[0])
	}
	jobs, err := parseImport(data)
	if err != nil {
		return err
	}

	store, err := openJobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		created, err := store.Insert(job)
		if err != nil {
			return errors.Wrapf(err, "importing %s", job.Summary())
		}
		fmt.Printf("Added reservation %s: %s\n", created.ID, created.Summary())
	}
	fmt.Printf("Imported %d reservations from %s\n", len(jobs), args[0])
	return nil
}

// importFile is the YAML layout accepted by jobs import. A bare list of
// reservations is accepted too.
type importFile struct {
	Reservations []domain.Job `yaml:"reservations"`
}

// parseImport decodes and validates every reservation before any is
// stored, so a bad entry leaves the store untouched.
func parseImport(data []byte) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		var file importFile
		if err2 := yaml.Unmarshal(data, &file); err2 != nil {
			return nil, errors.NewValidationError("invalid import file: %v", err2)
		}
		jobs = file.Reservations
	}
	if len(jobs) == 0 {
		return nil, errors.NewValidationError("import file contains no reservations")
	}

	for i := range jobs {
		if err := jobs[i].Validate(); err != nil {
			return nil, errors.Wrapf(err, "reservation %d", i+1)
		}
	}
	return jobs, nil
}
