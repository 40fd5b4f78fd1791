package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/backend"
	"bindery/internal/config"
	"bindery/internal/conversion"
	"bindery/internal/errs"
	"bindery/internal/events"
	"bindery/internal/history"
	"bindery/internal/logging"
	"bindery/internal/notifications"
	"bindery/internal/recovery"
	"bindery/internal/workflow"
)

func newConvertCommand(cmdCtx *commandContext) *cobra.Command {
	var (
		outputDir        string
		moduleID         string
		title            string
		author           string
		license          string
		tables           string
		ocr              string
		workers          int
		toc              bool
		deterministicIDs bool
		pages            string
		verbose          bool
	)

	cmd := &cobra.Command{
		Use:   "convert <pdf>",
		Short: "Convert a PDF into a module directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			tableMode, err := conversion.ParseTableMode(firstNonEmpty(tables, cfg.Conversion.Tables))
			if err != nil {
				return err
			}
			ocrMode, err := conversion.ParseOCRMode(firstNonEmpty(ocr, cfg.Conversion.OCR))
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Conversion.Workers
			}

			conv := conversion.Config{
				PDFPath:          args[0],
				OutputDir:        firstNonEmpty(outputDir, cfg.Paths.OutputDir),
				ModuleID:         moduleID,
				ModuleTitle:      title,
				Author:           author,
				License:          license,
				Tables:           tableMode,
				OCR:              ocrMode,
				Workers:          workers,
				TOC:              toc || cfg.Conversion.TOC,
				DeterministicIDs: deterministicIDs || cfg.Conversion.DeterministicIDs,
				Pages:            pages,
			}.Normalize()
			if err := conv.Validate(); err != nil {
				return err
			}

			return runConversion(cmd, cfg, conv, verbose)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (defaults to config)")
	cmd.Flags().StringVar(&moduleID, "module-id", "", "Module identifier (defaults to a slug of the filename)")
	cmd.Flags().StringVar(&title, "title", "", "Module title")
	cmd.Flags().StringVar(&author, "author", "", "Module author")
	cmd.Flags().StringVar(&license, "license", "", "Module license")
	cmd.Flags().StringVar(&tables, "tables", "", "Table handling: structured, auto, or image-only")
	cmd.Flags().StringVar(&ocr, "ocr", "", "OCR mode: auto, on, or off")
	cmd.Flags().IntVar(&workers, "workers", 0, "Extraction worker count")
	cmd.Flags().BoolVar(&toc, "toc", false, "Generate a table of contents")
	cmd.Flags().BoolVar(&deterministicIDs, "deterministic-ids", false, "Derive stable entry IDs from content")
	cmd.Flags().StringVar(&pages, "pages", "", "Page selection, e.g. 1-10,12")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show backend log lines")
	return cmd
}

// runConversion drives one conversion (plus any recovery retries) to a
// terminal outcome, rendering progress to the terminal.
func runConversion(cmd *cobra.Command, cfg *config.Config, conv conversion.Config, verbose bool) error {
	level := "warn"
	if verbose {
		level = "info"
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format, OutputPaths: []string{"stderr"}})
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	store, err := history.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	recorder := history.NewRecorder(store, bus, logger)
	defer recorder.Stop()

	notifier := notifications.NewNotifier(notifications.NewService(cfg), bus, logger)
	defer notifier.Stop()

	controller := workflow.NewController(backend.NewPDF(logger), bus, logger, workflow.ControllerOptions{
		ProgressThrottle: cfg.ProgressThrottle(),
		ShutdownTimeout:  cfg.ShutdownTimeout(),
	})

	out := cmd.OutOrStdout()
	dialog := newDialog(cmd, isTerminal(out))
	manager := recovery.NewManager(bus, dialog, logger, recovery.Options{
		BaseBackoff: cfg.BaseBackoff(),
		MaxBackoff:  cfg.MaxBackoff(),
		MaxAttempts: cfg.Recovery.MaxAttempts,
	})

	sub := bus.Subscribe()
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobID, err := controller.Start(conv)
	if err != nil {
		return err
	}

	display := newProgressDisplay(out, isTerminal(out))
	var (
		result       *conversion.Result
		failure      error
		cancelled    bool
		awaitRetry   bool
		interrupting bool
	)

	for {
		select {
		case <-ctx.Done():
			if !interrupting {
				interrupting = true
				display.line("Cancelling...")
				manager.Reset()
				awaitRetry = false
				controller.Cancel()
				if !controller.Running() {
					return context.Canceled
				}
			}
		case ev, ok := <-sub.C():
			if !ok {
				return errors.New("event stream closed unexpectedly")
			}
			switch t := ev.(type) {
			case events.Progress:
				display.progress(t)
			case events.Log:
				if verbose {
					display.line(fmt.Sprintf("[%s] %s", t.Level, t.Message))
				}
			case events.Completed:
				result = t.Result
			case events.Canceled:
				cancelled = true
			case events.Failed:
				display.finishLine()
				failure = t.Err
				if interrupting {
					break
				}
				action := manager.StartRecovery(jobID, t.Err, conv)
				switch action {
				case recovery.ActionRetry:
					awaitRetry = true
					failure = nil
					attempt := manager.Attempts(jobID)
					display.line(fmt.Sprintf("Retry %d scheduled in %s", attempt, manager.Backoff(attempt)))
				case recovery.ActionSelectAlternativePath:
					display.line("Pick a different input file and run convert again.")
				case recovery.ActionOpenSettings:
					display.line("Adjust the configuration (bindery config validate) and run convert again.")
				case recovery.ActionOpenPermissionsHelp:
					display.line("Check read permissions on the input file and output directory.")
				case recovery.ActionReportIssue:
					display.line("This looks like a bug; please report it with the log output.")
				}
			case events.PerformRetry:
				awaitRetry = false
				if _, startErr := controller.Start(t.Config); startErr == nil {
					display.line(fmt.Sprintf("Retrying (attempt %d)...", t.Attempt))
				} else {
					failure = startErr
				}
			case events.Finished:
				if awaitRetry || controller.Running() {
					break
				}
				display.finishLine()
				return finalOutcome(out, result, failure, cancelled)
			}
		}
	}
}

func finalOutcome(out io.Writer, result *conversion.Result, failure error, cancelled bool) error {
	switch {
	case result != nil:
		fmt.Fprintf(out, "Module written to %s (%d entries, %d pages, %s)\n",
			result.ModulePath, result.EntryCount, result.PageCount, result.Elapsed.Round(time.Millisecond))
		return nil
	case cancelled:
		return context.Canceled
	case failure != nil:
		return failure
	default:
		return errors.New("conversion ended without an outcome")
	}
}

// newDialog builds the recovery decision boundary: interactive prompt on a
// terminal, retry-or-cancel policy otherwise.
func newDialog(cmd *cobra.Command, tty bool) recovery.Dialog {
	if !tty {
		return recovery.DialogFunc(func(_ string, _ *errs.AppError, offered []recovery.Action) recovery.Action {
			for _, action := range offered {
				if action == recovery.ActionRetry {
					return action
				}
			}
			return recovery.ActionCancel
		})
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	return recovery.DialogFunc(func(_ string, failure *errs.AppError, offered []recovery.Action) recovery.Action {
		fmt.Fprintf(out, "\nConversion failed: %s\n", failure.Error())
		if failure.Detail != "" {
			fmt.Fprintf(out, "  %s\n", failure.Detail)
		}
		for i, action := range offered {
			fmt.Fprintf(out, "  %d) %s\n", i+1, actionLabel(action))
		}
		fmt.Fprint(out, "Choose an option: ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return recovery.ActionCancel
		}
		choice, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || choice < 1 || choice > len(offered) {
			return recovery.ActionCancel
		}
		return offered[choice-1]
	})
}

func actionLabel(action recovery.Action) string {
	switch action {
	case recovery.ActionRetry:
		return "Retry"
	case recovery.ActionSelectAlternativePath:
		return "Use a different file"
	case recovery.ActionOpenPermissionsHelp:
		return "Show permissions help"
	case recovery.ActionOpenSettings:
		return "Review settings"
	case recovery.ActionReportIssue:
		return "Report this issue"
	case recovery.ActionCancel:
		return "Cancel"
	default:
		return string(action)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
