package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/internal/config"
	"github.com/dshills/tailorgraph/internal/ingest"
	"github.com/dshills/tailorgraph/internal/logging"
	"github.com/dshills/tailorgraph/internal/session"
	"github.com/dshills/tailorgraph/internal/tailor"
)

var (
	runResumePath string
	runJobPath    string
	runJobURL     string
	runRequest    string
	runOutput     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tailor a resume interactively in the terminal",
	Long: `Run one tailoring session in the terminal. Suggestions that need review
are shown one at a time and answered on standard input. The final report is
printed to standard output or written to --output.`,
	Example: `  tailor run --resume cv.pdf --job-url https://example.com/jobs/42
  tailor run --resume cv.txt --job posting.txt --request "Emphasize leadership"`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runResumePath, "resume", "r", "", "resume file (PDF or plain text)")
	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "job description file")
	runCmd.Flags().StringVar(&runJobURL, "job-url", "", "job posting URL")
	runCmd.Flags().StringVar(&runRequest, "request", "", "free-form tailoring request")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the report to this file")
	_ = runCmd.MarkFlagRequired("resume")
	runCmd.MarkFlagsOneRequired("job", "job-url")
	runCmd.MarkFlagsMutuallyExclusive("job", "job-url")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	in, err := loadInputs(ctx, runResumePath, runJobPath, runJobURL, runRequest)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	wf, err := a.workflow(a.store)
	if err != nil {
		return err
	}
	manager := session.NewManager(wf, a.store, session.WithLogger(logger))

	report, err := interact(ctx, manager, in, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if runOutput != "" {
		if err := os.WriteFile(runOutput, []byte(report), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", zap.String("path", runOutput))
		return nil
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), report)
	return err
}

// loadInputs reads the resume and job description for a new session.
func loadInputs(ctx context.Context, resumePath, jobPath, jobURL, request string) (session.NewSession, error) {
	in := session.NewSession{Request: request}

	data, err := os.ReadFile(resumePath)
	if err != nil {
		return in, fmt.Errorf("read resume: %w", err)
	}
	if strings.EqualFold(filepath.Ext(resumePath), ".pdf") {
		if in.Resume, err = ingest.ExtractText(data); err != nil {
			return in, err
		}
	} else {
		in.Resume = string(data)
	}

	if jobURL != "" {
		in.JobDescription, err = ingest.FetchJobText(ctx, jobURL)
		return in, err
	}
	data, err = os.ReadFile(jobPath)
	if err != nil {
		return in, fmt.Errorf("read job description: %w", err)
	}
	in.JobDescription = string(data)
	return in, nil
}

// sessionRunner is the part of the session manager a terminal session uses.
type sessionRunner interface {
	Create(ctx context.Context, in session.NewSession) (string, tailor.State, error)
	Feedback(ctx context.Context, id string, answer tailor.Answer) (tailor.State, error)
}

// interact runs a session to completion, asking for a decision on every
// suggestion that needs review, and returns the rendered report.
func interact(ctx context.Context, sessions sessionRunner, in session.NewSession, r io.Reader, w io.Writer) (string, error) {
	start := time.Now()
	id, state, err := sessions.Create(ctx, in)
	if err != nil {
		return "", err
	}

	answers := bufio.NewScanner(r)
	for state.WaitingForHuman {
		answer, err := ask(answers, w, state)
		if err != nil {
			return "", err
		}
		if state, err = sessions.Feedback(ctx, id, answer); err != nil {
			return "", err
		}
	}

	if !state.Done() {
		return "", fmt.Errorf("session %s stopped at %s", id, state.Cursor)
	}
	fmt.Fprintf(w, "\nSession %s completed in %s\n\n", id, time.Since(start).Round(time.Second))
	return state.RenderedOutput, nil
}

// ask shows the pending suggestion and reads a decision, re-prompting
// until the input maps to one of the offered options.
func ask(answers *bufio.Scanner, w io.Writer, s tailor.State) (tailor.Answer, error) {
	if sug := s.CurrentSuggestion; sug != nil {
		fmt.Fprintf(w, "\n[%s] %s (confidence: %s)\n", sug.Section, sug.Skill, sug.Confidence)
		if sug.OriginalText != "" {
			fmt.Fprintf(w, "  - %s\n", sug.OriginalText)
		}
		fmt.Fprintf(w, "  + %s\n", sug.NewText)
		if sug.Explanation != "" {
			fmt.Fprintf(w, "  %s\n", sug.Explanation)
		}
	}

	for {
		fmt.Fprintf(w, "%s\n", s.PendingQuestion)
		for i, opt := range s.PendingOptions {
			fmt.Fprintf(w, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprint(w, "> ")

		line, err := readLine(answers)
		if err != nil {
			return tailor.Answer{}, err
		}
		choice, ok := parseChoice(line, s.PendingOptions)
		if !ok {
			fmt.Fprintf(w, "Unrecognized answer %q.\n", line)
			continue
		}
		answer := tailor.Answer{Choice: choice}
		if choice == tailor.ChoiceYesModify {
			for answer.ModifiedText == "" {
				fmt.Fprint(w, "Replacement text> ")
				if answer.ModifiedText, err = readLine(answers); err != nil {
					return tailor.Answer{}, err
				}
			}
		}
		return answer, nil
	}
}

func readLine(s *bufio.Scanner) (string, error) {
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", errors.New("input closed before the session completed")
	}
	return strings.TrimSpace(s.Text()), nil
}

// parseChoice accepts an option number, the option text or a y/n/m
// shorthand.
func parseChoice(input string, options []tailor.Choice) (tailor.Choice, bool) {
	input = strings.TrimSpace(input)
	for i, opt := range options {
		if input == fmt.Sprint(i+1) || strings.EqualFold(input, string(opt)) {
			return opt, true
		}
	}
	var shorthand tailor.Choice
	switch strings.ToLower(input) {
	case "y", "yes":
		shorthand = tailor.ChoiceYes
	case "n", "no":
		shorthand = tailor.ChoiceNo
	case "m", "modify":
		shorthand = tailor.ChoiceYesModify
	default:
		return "", false
	}
	for _, opt := range options {
		if opt == shorthand {
			return opt, true
		}
	}
	return "", false
}
