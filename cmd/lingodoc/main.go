// lingodoc is the document translation client. It uploads documents, follows
// job progress with adaptive polling and downloads the results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lingodoc/lingodoc-go/internal/api"
	"github.com/lingodoc/lingodoc-go/internal/balance"
	"github.com/lingodoc/lingodoc-go/internal/config"
	"github.com/lingodoc/lingodoc-go/internal/session"
	"github.com/lingodoc/lingodoc-go/internal/translation"
	"github.com/lingodoc/lingodoc-go/pkg/file"
	"github.com/lingodoc/lingodoc-go/pkg/icron"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lingodoc",
		Short: "Document translation client",
		Long: `lingodoc uploads documents for translation, follows job progress
with adaptive polling and downloads the results.

Commands:
  translate   Upload a document and follow it to completion
  status      Check a job once, or keep watching with --watch
  result      Download a finished translation
  jobs        List active jobs or the local submission history
  cancel      Cancel a running job
  recover     Find the job for an upload whose response was lost
  balance     Show or top up the page balance
  settings    Show or change saved settings`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newTranslateCmd(),
		newStatusCmd(),
		newResultCmd(),
		newJobsCmd(),
		newCancelCmd(),
		newRecoverCmd(),
		newBalanceCmd(),
		newSettingsCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if api.KindOf(err) != api.ErrUnknown {
			fmt.Fprintln(os.Stderr, "Error:", api.UserMessage(err))
			log.Debug("error detail: %v", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Session plumbing
// ---------------------------------------------------------------------------

// loadConfig reads .env, the environment and the saved runtime settings.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	probe, err := config.NewFromEnv()
	if err != nil {
		return nil, err
	}
	var opts []config.Option
	if settings, err := config.LoadRuntimeSettingsFile(probe.SettingsPath()); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, err
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))
	return cfg, nil
}

// withSession runs fn against a live session, cancelling its context on
// SIGINT and tearing the session down afterwards.
func withSession(fn func(ctx context.Context, s *session.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr)
		cancel()
	}()

	return fn(ctx, s)
}

// ---------------------------------------------------------------------------
// translate (upload and follow to completion)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		fromLang string
		toLang   string
		output   string
		detach   bool
	)
	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Upload a document and follow it to completion",
		Long: `Validate and upload a document, then poll the job until it finishes
and save the translated result next to the input
("report.pdf" becomes "report.de.pdf").

The source language is detected from plain-text files when --from is
omitted; other formats are detected server-side.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				return runTranslate(ctx, s, args[0], fromLang, toLang, output, detach)
			})
		},
	}
	cmd.Flags().StringVar(&fromLang, "from", "", "Source language code (default: auto-detect)")
	cmd.Flags().StringVar(&toLang, "to", "", "Target language code (default: LINGODOC_TARGET_LANG)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path for the translated document")
	cmd.Flags().BoolVar(&detach, "detach", false, "Submit and exit without waiting")
	return cmd
}

func runTranslate(ctx context.Context, s *session.Session, path, from, to, output string, detach bool) error {
	p, err := s.Translate(ctx, path, from, to, nil)
	if err != nil {
		if api.IsKind(err, api.ErrRecoveryFailed) {
			fmt.Fprintf(os.Stderr, "The upload timed out but the job may exist. Try: lingodoc recover %s\n", filepath.Base(path))
		}
		return err
	}

	view := p.Snapshot()
	fmt.Printf("Submitted %s as job %s (%s -> %s)\n", filepath.Base(path), view.ID, orAuto(view.FromLang), view.ToLang)
	if detach {
		fmt.Printf("Check progress with: lingodoc status %s\n", view.ID)
		return nil
	}

	if !watchJob(ctx, p) {
		fmt.Printf("Stopped watching. The job keeps running; check it with: lingodoc status %s\n", view.ID)
		return nil
	}
	if err := finalState(p.Snapshot()); err != nil {
		return err
	}
	if output == "" {
		output = file.UniquePath(file.WithLangSuffix(path, p.Snapshot().ToLang))
	}
	return saveResult(ctx, s, view.ID, output, false)
}

// ---------------------------------------------------------------------------
// status (one-shot or watched)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Check a translation job",
		Long: `Report the current state of a job. When the backend is unreachable
the last locally known state is shown, marked stale.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				return runStatus(ctx, s, args[0], watch)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep polling until the job finishes")
	return cmd
}

func runStatus(ctx context.Context, s *session.Session, jobID string, watch bool) error {
	if watch {
		p, err := s.Track(ctx, jobID, nil)
		if err != nil {
			return err
		}
		if !watchJob(ctx, p) {
			fmt.Println("Stopped watching.")
			return nil
		}
		return finalState(p.Snapshot())
	}

	report, err := s.Status(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Println(formatJobLine(report.Job))
	if report.Stale {
		fmt.Printf("Backend unreachable; state last confirmed %s.\n", humanize.Time(report.AsOf))
	}
	return nil
}

// ---------------------------------------------------------------------------
// result (download)
// ---------------------------------------------------------------------------

func newResultCmd() *cobra.Command {
	var (
		partial bool
		output  string
	)
	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Download a finished translation",
		Long: `Download the translated document for a job. If the job is not done
yet, polling resumes and the download retries once it finishes.
With --partial, whatever has been translated so far is accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				return saveResult(ctx, s, args[0], output, partial)
			})
		},
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "Accept a partial result")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path for the translated document")
	return cmd
}

// saveResult downloads the job's document, waiting out a not-ready backend
// by resuming the poll loop between attempts.
func saveResult(ctx context.Context, s *session.Session, jobID, output string, allowPartial bool) error {
	for attempt := 0; ; attempt++ {
		doc, resumed, err := s.Result(ctx, jobID, allowPartial)
		if err != nil {
			return err
		}
		if !resumed {
			return writeResult(doc, output)
		}
		if attempt >= 5 {
			return fmt.Errorf("translation not ready yet; try again shortly: lingodoc result %s", jobID)
		}
		fmt.Println("Result not ready yet, waiting for the job to finish...")
		if err := waitForReady(ctx, s, jobID); err != nil {
			return err
		}
	}
}

func waitForReady(ctx context.Context, s *session.Session, jobID string) error {
	p, tracked := s.Watch(jobID)
	if !tracked {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.Done():
	}
	if err := finalState(p.Snapshot()); err != nil {
		return err
	}
	// The job finished; give the backend a beat to publish the document.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	return nil
}

func writeResult(doc *api.ResultDocument, output string) error {
	name := output
	if name == "" {
		name = doc.Filename
		if name == "" {
			name = doc.JobID + ".out"
		}
		name = file.UniquePath(name)
	}
	if err := os.WriteFile(name, doc.Content, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	label := "translation"
	if doc.Partial {
		label = "partial translation"
	}
	fmt.Printf("Saved %s to %s (%s)\n", label, name, humanize.Bytes(uint64(len(doc.Content))))
	return nil
}

// ---------------------------------------------------------------------------
// jobs (active on the backend, or local history)
// ---------------------------------------------------------------------------

func newJobsCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List active jobs or the local submission history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				return runJobs(ctx, s, history)
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Show the local submission history instead")
	return cmd
}

func runJobs(ctx context.Context, s *session.Session, history bool) error {
	if history {
		recs, err := s.History(ctx, 0)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No submissions recorded yet.")
			return nil
		}
		for _, rec := range recs {
			line := fmt.Sprintf("%-19s  %-28s %s -> %s", rec.SubmittedAt.Local().Format("2006-01-02 15:04:05"), rec.FileName, orAuto(rec.FromLang), rec.ToLang)
			if rec.PendingRecovery {
				line += "  [pending recovery]"
			} else if rec.JobID != "" {
				line += "  " + rec.JobID
			}
			fmt.Println(line)
		}
		return nil
	}

	jobs, err := s.ActiveJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No active jobs.")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%-20s %-12s %3d%%  %s\n", j.JobID, j.Status, j.Progress, j.Filename)
	}
	return nil
}

// ---------------------------------------------------------------------------
// cancel
// ---------------------------------------------------------------------------

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				if err := s.Cancel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Cancelled job %s.\n", args[0])
				return nil
			})
		},
	}
}

// ---------------------------------------------------------------------------
// recover (find a job for a lost upload response)
// ---------------------------------------------------------------------------

func newRecoverCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "recover <file-name>",
		Short: "Find the job for an upload whose response was lost",
		Long: `When an upload times out the backend may have created the job anyway.
recover looks it up by file name, resumes polling and downloads the
result when it finishes. Pending uploads are listed by
"lingodoc jobs --history".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				return runRecover(ctx, s, args[0], output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path for the translated document")
	return cmd
}

func runRecover(ctx context.Context, s *session.Session, fileName, output string) error {
	p, err := s.Recover(ctx, fileName, nil)
	if err != nil {
		return err
	}
	view := p.Snapshot()
	fmt.Printf("Recovered %s as job %s\n", fileName, view.ID)

	if !watchJob(ctx, p) {
		fmt.Printf("Stopped watching. The job keeps running; check it with: lingodoc status %s\n", view.ID)
		return nil
	}
	if err := finalState(p.Snapshot()); err != nil {
		return err
	}
	if output == "" {
		output = file.UniquePath(file.WithLangSuffix(fileName, p.Snapshot().ToLang))
	}
	return saveResult(ctx, s, view.ID, output, false)
}

// ---------------------------------------------------------------------------
// balance
// ---------------------------------------------------------------------------

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the page balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session.Session) error {
				printBalance(s.Balance(ctx))
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <pages>",
		Short: "Add pages to the balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pages, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid page count %q", args[0])
			}
			return withSession(func(ctx context.Context, s *session.Session) error {
				info, err := s.AddPages(ctx, pages)
				if err != nil {
					return err
				}
				fmt.Printf("Added %d pages.\n", pages)
				printBalance(info)
				return nil
			})
		},
	})
	return cmd
}

func printBalance(info balance.Info) {
	fmt.Printf("Pages available: %d (used: %d)\n", info.PagesBalance, info.PagesUsed)
	switch {
	case info.IsDefault:
		fmt.Println("Balance service unreachable; showing defaults.")
	case info.Stale:
		fmt.Printf("Balance service unreachable; values cached %s.\n", humanize.Time(info.FetchedAt))
	}
}

// ---------------------------------------------------------------------------
// settings
// ---------------------------------------------------------------------------

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change saved settings",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			settings := cfg.RuntimeSettings()
			cred := "(not set)"
			if settings.Credential != "" {
				cred = "(set)"
			}
			fmt.Printf("API URL:           %s\n", settings.APIURL)
			fmt.Printf("Token URL:         %s\n", settings.TokenURL)
			fmt.Printf("Credential:        %s\n", cred)
			fmt.Printf("Target language:   %s\n", orAuto(settings.TargetLanguage))
			fmt.Printf("Maintenance:       %s\n", settings.MaintenanceCron)
			if info, err := icron.GetTriggerInfo(cfg.System.MaintenanceCron, time.Now()); err == nil {
				fmt.Printf("Next maintenance:  %s\n", humanize.Time(info.Next))
			}
			fmt.Printf("Data directory:    %s\n", cfg.System.DataDir)
			fmt.Printf("Settings file:     %s\n", cfg.SettingsPath())
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var settings config.RuntimeSettings
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save settings for future runs",
		Long: `Persist settings to the data directory. Only the flags you pass are
changed; everything else keeps its saved value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.SettingsPath()
			saved, err := config.LoadRuntimeSettingsFile(path)
			if err != nil {
				saved = config.RuntimeSettings{}
			}
			if settings.APIURL != "" {
				saved.APIURL = settings.APIURL
			}
			if settings.TokenURL != "" {
				saved.TokenURL = settings.TokenURL
			}
			if settings.Credential != "" {
				saved.Credential = settings.Credential
			}
			if settings.TargetLanguage != "" {
				saved.TargetLanguage = settings.TargetLanguage
			}
			if settings.MaintenanceCron != "" {
				saved.MaintenanceCron = settings.MaintenanceCron
			}
			if saved.APIURL == "" {
				saved.APIURL = cfg.API.BaseURL
			}
			if err := config.WriteRuntimeSettingsFile(path, saved); err != nil {
				return err
			}
			fmt.Printf("Saved settings to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&settings.APIURL, "api-url", "", "Translation backend base URL")
	cmd.Flags().StringVar(&settings.TokenURL, "token-url", "", "Token issue endpoint")
	cmd.Flags().StringVar(&settings.Credential, "credential", "", "Long-lived credential")
	cmd.Flags().StringVar(&settings.TargetLanguage, "target-lang", "", "Default target language")
	cmd.Flags().StringVar(&settings.MaintenanceCron, "maintenance-cron", "", "Local maintenance schedule")
	return cmd
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lingodoc version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared output helpers
// ---------------------------------------------------------------------------

// watchJob prints a status line whenever it changes, until the poller
// finishes. Returns false when ctx was cancelled first.
func watchJob(ctx context.Context, p *translation.Poller) bool {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	printLine := func() {
		line := formatStatusLine(p.Snapshot())
		if line != last {
			last = line
			fmt.Println(line)
		}
	}
	printLine()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-p.Done():
			printLine()
			return true
		case <-ticker.C:
			printLine()
		}
	}
}

func formatStatusLine(view translation.JobView) string {
	status := string(view.Status)
	if view.State == translation.PollerStalled {
		status = "in_progress (no news from the server)"
	}
	progress := fmt.Sprintf("%d%%", view.DisplayProgress)
	if view.Estimated {
		progress = "~" + progress + " (estimated)"
	}
	line := fmt.Sprintf("[%s] %s %s", view.ID, status, progress)
	if view.TotalPages > 0 {
		line += fmt.Sprintf(" (page %d/%d)", view.CurrentPage, view.TotalPages)
	}
	if view.StuckAdvisory {
		line += " [server busy]"
	}
	return line
}

func formatJobLine(job translation.Job) string {
	line := fmt.Sprintf("Job %s: %s %d%%", job.ID, job.Status, job.Progress)
	if job.TotalPages > 0 {
		line += fmt.Sprintf(" (page %d/%d)", job.CurrentPage, job.TotalPages)
	}
	if job.Error != "" {
		line += "\n  error: " + job.Error
	}
	return line
}

// finalState maps a finished poller to the command's exit condition.
func finalState(view translation.JobView) error {
	switch view.State {
	case translation.PollerTimedOut:
		return fmt.Errorf("lost contact with the server after repeated failures; the job may still be running. Try later: lingodoc result %s", view.ID)
	case translation.PollerCancelled:
		return fmt.Errorf("translation was cancelled")
	}
	switch view.Status {
	case translation.StatusCompleted:
		return nil
	case translation.StatusFailed:
		if view.Error != "" {
			return fmt.Errorf("translation failed: %s", view.Error)
		}
		return fmt.Errorf("translation failed")
	case translation.StatusCancelled:
		return fmt.Errorf("translation was cancelled")
	case translation.StatusTimeout:
		return fmt.Errorf("the server timed the job out; try: lingodoc result %s", view.ID)
	default:
		return fmt.Errorf("job ended in unexpected state %q", view.Status)
	}
}

func orAuto(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}
