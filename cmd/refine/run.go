package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/audit"
	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/feedback"
	"github.com/basket/go-refine/internal/filename"
	"github.com/basket/go-refine/internal/llm"
	otelPkg "github.com/basket/go-refine/internal/otel"
	"github.com/basket/go-refine/internal/persistence"
	"github.com/basket/go-refine/internal/shared"
	"github.com/basket/go-refine/internal/steps"
	"github.com/basket/go-refine/internal/stream"
	"github.com/basket/go-refine/internal/telemetry"
	"github.com/basket/go-refine/internal/thread"
)

// slotRounds holds the log every generated draft is appended to.
const slotRounds engine.Slot = "rounds"

// checkpointRetention bounds how long finished cycle checkpoints are kept.
const checkpointRetention = 30 * 24 * time.Hour

type runOptions struct {
	PromptFile   string
	Out          string
	Role         string
	Threshold    int
	FeedbackMode string
	Verbose      bool
}

func parseRunArgs(args []string) (runOptions, error) {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.PromptFile, "prompt", "", "brief handed to the model every round")
	fs.StringVar(&opts.Out, "out", "", "output document, relative to target_dir")
	fs.StringVar(&opts.Role, "role", shared.DefaultRole, "role recorded on every step")
	fs.IntVar(&opts.Threshold, "threshold", 0, "round limit")
	fs.StringVar(&opts.FeedbackMode, "feedback", "", "tui, stdin or file")
	fs.BoolVar(&opts.Verbose, "verbose", false, "also log to stdout")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("usage: refine run -prompt <file> -out <path>: %w", err)
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if strings.TrimSpace(opts.PromptFile) == "" || strings.TrimSpace(opts.Out) == "" {
		return opts, errors.New("usage: refine run -prompt <file> -out <path>: both flags are required")
	}
	if opts.Threshold < 0 {
		return opts, fmt.Errorf("-threshold must be positive, got %d", opts.Threshold)
	}
	opts.FeedbackMode = strings.ToLower(strings.TrimSpace(opts.FeedbackMode))
	switch opts.FeedbackMode {
	case "", config.FeedbackModeTUI, config.FeedbackModeStdin, config.FeedbackModeFile:
	default:
		return opts, fmt.Errorf("-feedback %q is not one of tui, stdin, file", opts.FeedbackMode)
	}
	if strings.TrimSpace(opts.Role) == "" {
		opts.Role = shared.DefaultRole
	}
	return opts, nil
}

// apply layers command-line overrides on top of the loaded config.
func (o runOptions) apply(cfg *config.Config) {
	if o.Threshold > 0 {
		cfg.Threshold = o.Threshold
	}
	if o.FeedbackMode != "" {
		cfg.Feedback.Mode = o.FeedbackMode
	}
}

func runRunCommand(ctx context.Context, args []string) int {
	opts, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	opts.apply(&cfg)

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, !opts.Verbose)
	if err != nil {
		return fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	if err := audit.Init(cfg.HomeDir); err != nil {
		return fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer audit.Close()
	logger.Info("startup phase", "phase", "config_loaded", "config", cfg.Fingerprint(), "version", Version)

	cfg.OTel.ServiceVersion = Version
	provider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		return fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		return fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	if n, err := store.CleanupFinishedCycles(ctx, checkpointRetention); err != nil {
		logger.Warn("cycle checkpoint cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info("pruned finished cycle checkpoints", "count", n)
	}
	logger.Info("startup phase", "phase", "schema_migrated", "db", cfg.DBPath)

	completer, err := buildCompleter(ctx, cfg.LLM, logger)
	if err != nil {
		return fatalStartup(logger, "E_LLM_INIT", err)
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	var configEvents <-chan config.ReloadEvent
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		configEvents = watcher.Events()
	}

	sess := &session{
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		completer:    completer,
		asker:        audit.Asker{Next: chooseAsker(cfg, os.Stdin, os.Stdout, logger)},
		store:        store,
		bus:          bus.New(),
		tracer:       provider.Tracer,
		metrics:      metrics,
		progress:     os.Stdout,
		configEvents: configEvents,
	}
	res, err := sess.run(ctx)
	return reportOutcome(os.Stdout, res, err)
}

func buildCompleter(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Completer, error) {
	primary, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}
	var fallbacks []llm.Completer
	for i, fb := range cfg.Fallbacks {
		c, err := newCompleter(ctx, fb)
		if err != nil {
			logger.Warn("skipping llm fallback", "index", i, "provider", fb.Provider, "error", err)
			continue
		}
		fallbacks = append(fallbacks, c)
	}
	return llm.NewFailover(primary, fallbacks, 0, 0, logger), nil
}

func newCompleter(ctx context.Context, l config.LLMConfig) (llm.Completer, error) {
	if l.Provider == "openai_compatible" {
		timeout := time.Duration(l.TimeoutSeconds) * time.Second
		return llm.NewHTTPCompleter(l.BaseURL, l.ResolveAPIKey(), l.Model, l.Candidates, timeout), nil
	}
	c, err := llm.NewGenkitCompleter(ctx, llm.GenkitConfig{
		Provider: l.Provider,
		Model:    l.Model,
		APIKey:   l.ResolveAPIKey(),
		BaseURL:  l.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// chooseAsker picks the feedback capture for cfg. The TUI needs a terminal
// on both ends; without one it degrades to plain lines on stdin.
func chooseAsker(cfg config.Config, in, out *os.File, logger *slog.Logger) feedback.Asker {
	switch cfg.Feedback.Mode {
	case config.FeedbackModeFile:
		timeout := time.Duration(cfg.Feedback.FileTimeoutSeconds) * time.Second
		return feedback.NewFileAsker(inboxPath(cfg), timeout, logger)
	case config.FeedbackModeStdin:
		return feedback.NewStdinAsker(in, out)
	}
	if isatty.IsTerminal(in.Fd()) && isatty.IsTerminal(out.Fd()) {
		return feedback.NewTUIAsker(in, out)
	}
	logger.Info("no terminal for the feedback TUI; reading notes from stdin")
	return feedback.NewStdinAsker(in, out)
}

func observabilityDir(cfg config.Config) string {
	return filepath.Join(cfg.TargetDir, "."+cfg.ObservabilitySubdir())
}

// inboxPath is the file a reviewer edits in file feedback mode.
func inboxPath(cfg config.Config) string {
	return filepath.Join(observabilityDir(cfg), "inbox.md")
}

// session is one `refine run`: a feedback cycle around a generate, store and
// review round, followed by publishing the accepted draft.
type session struct {
	cfg       config.Config
	opts      runOptions
	logger    *slog.Logger
	completer llm.Completer
	asker     feedback.Asker
	store     *persistence.Store
	bus       *bus.Bus
	tracer    trace.Tracer
	metrics   *otelPkg.Metrics

	progress     io.Writer
	configEvents <-chan config.ReloadEvent
}

type sessionResult struct {
	RunID     string
	Cycle     *engine.CycleResult
	Output    string
	StreamDir string
}

func (s *session) run(ctx context.Context) (sessionResult, error) {
	var res sessionResult
	raw, err := os.ReadFile(s.opts.PromptFile)
	if err != nil {
		return res, fmt.Errorf("read prompt: %w", err)
	}
	brief := strings.TrimSpace(string(raw))
	if brief == "" {
		return res, fmt.Errorf("prompt file %s is empty", s.opts.PromptFile)
	}

	res.RunID = shared.NewRunID()
	ctx = shared.WithRunID(ctx, res.RunID)
	role := s.opts.Role

	outPath := s.opts.Out
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(s.cfg.TargetDir, outPath)
	}
	var fileOpts []artifact.FileOption
	if s.cfg.VersionedArtifacts {
		fileOpts = append(fileOpts, artifact.WithVersions())
	}
	primary, err := artifact.NewFile(outPath, fileOpts...)
	if err != nil {
		return res, err
	}
	rounds, err := artifact.NewFile(roundsPath(outPath))
	if err != nil {
		return res, err
	}
	notes, err := artifact.NewFile(filepath.Join(observabilityDir(s.cfg), "feedback", stream.SanitizeFilename(role)+".md"))
	if err != nil {
		return res, err
	}
	// Notes left over from an earlier run must not steer the first round.
	if err := notes.Del(ctx); err != nil {
		return res, err
	}

	sink, err := stream.NewSink(s.cfg.TargetDir, s.cfg.ObservabilitySubdir(),
		stream.WithLogger(s.logger), stream.WithBus(s.bus))
	if err != nil {
		return res, err
	}
	res.StreamDir = sink.Dir()

	runner := engine.NewRunner(
		engine.WithJournal(s.store),
		engine.WithSink(sink),
		engine.WithCheckpoints(s.store),
		engine.WithBus(s.bus),
		engine.WithTracer(s.tracer),
		engine.WithMetrics(s.metrics),
		engine.WithLogger(s.logger),
	)
	stash, err := engine.NewStash(role, map[engine.Slot]artifact.Artifact{
		engine.SlotOutput:   primary,
		engine.SlotFeedback: notes,
		slotRounds:          rounds,
	}, engine.SlotOutput, engine.SlotFeedback)
	if err != nil {
		return res, err
	}
	ec := runner.NewContext(role, stash)

	sub := s.bus.Subscribe("cycle.")
	done := make(chan struct{})
	go func() {
		defer close(done)
		printProgress(s.progress, sub.Ch(), s.configEvents)
	}()
	defer func() {
		s.bus.Unsubscribe(sub)
		<-done
		if n := sub.Dropped(); n > 0 {
			s.logger.Warn("progress events dropped", "count", n)
		}
	}()

	cycle := engine.NewCycle("refine", s.round(brief, outPath, fileOpts), engine.SlotFeedback, s.cfg.Threshold)
	s.logger.Info("run started", "run_id", res.RunID, "role", role, "out", outPath, "threshold", cycle.Threshold,
		"llm", s.completer.Name(), "stream", sink.Dir())
	res.Cycle, err = cycle.Run(ctx, ec)
	if err != nil && !errors.Is(err, engine.ErrLoopExhausted) {
		return res, err
	}

	current, _ := stash.Artifact(engine.SlotOutput)
	res.Output = pathOf(current)
	if res.Cycle.Outcome != engine.OutcomeRelease {
		return res, err
	}
	publish := engine.NewRoute("publish",
		steps.NewSwap(engine.SlotOutput, primary),
		steps.NewSet(engine.SlotOutput, steps.Upsert).Named("publish").From(thread.OfForm(thread.FormImagine)),
	)
	if _, err := ec.Run(ctx, publish); err != nil {
		return res, fmt.Errorf("publish %s: %w", outPath, err)
	}
	res.Output = primary.Path()
	return res, nil
}

// round is the repeatee of the feedback cycle. Notes are read by the prompt
// before the reset clears them, so each round sees the previous round's notes
// and nothing older.
func (s *session) round(brief, outPath string, fileOpts []artifact.FileOption) engine.Step {
	imaginer := llm.NewImaginer(s.completer,
		llm.WithLogger(s.logger), llm.WithTracer(s.tracer), llm.WithMetrics(s.metrics))
	fromDraft := thread.OfForm(thread.FormImagine)
	return engine.NewRoute("round",
		steps.NewImagine("draft", imaginer, promptFor(brief)),
		steps.NewReset(),
		steps.NewSwapFunc(engine.SlotOutput, attemptFile(outPath, fileOpts)),
		steps.NewSet(engine.SlotOutput, steps.Upsert).From(fromDraft),
		steps.NewSet(slotRounds, steps.Append).From(fromDraft),
		steps.NewWriteProvenance(engine.SlotOutput),
		steps.NewAskFeedback(s.asker, questionFor),
	)
}

// roundsPath is the log every draft of outPath is appended to.
func roundsPath(outPath string) string {
	return filename.WithExtension(filename.StripAttemptSuffix(outPath), ".rounds.md")
}

const swapOutputSlug = "swap-" + string(engine.SlotOutput)

// repetition counts the rounds that have reached the attempt swap.
func repetition(ec *engine.Context) int {
	n := 0
	for _, st := range ec.Thread.Stitches() {
		if st.Slug == swapOutputSlug {
			n++
		}
	}
	return n
}

// attemptFile binds each round's draft to its own numbered file.
func attemptFile(outPath string, fileOpts []artifact.FileOption) steps.Resolver {
	return func(_ context.Context, ec *engine.Context) (artifact.Artifact, error) {
		f, err := artifact.NewFile(filename.WithAttempt(outPath, repetition(ec)+1), fileOpts...)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func promptFor(brief string) steps.PromptFunc {
	return func(ctx context.Context, ec *engine.Context) (string, error) {
		notes, err := readSlot(ctx, ec, engine.SlotFeedback)
		if err != nil || notes == "" {
			return brief, err
		}
		draft, err := readSlot(ctx, ec, engine.SlotOutput)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString(brief)
		if draft != "" {
			b.WriteString("\n\n## Current draft\n\n")
			b.WriteString(draft)
		}
		b.WriteString("\n\n## Reviewer notes\n\n")
		b.WriteString(notes)
		b.WriteString("\n\nRevise the draft so it addresses every note. Reply with the complete document only.")
		return b.String(), nil
	}
}

func readSlot(ctx context.Context, ec *engine.Context, slot engine.Slot) (string, error) {
	a, err := ec.Stash.Artifact(slot)
	if err != nil {
		return "", err
	}
	c, err := a.Get(ctx)
	if err != nil || c == nil {
		return "", err
	}
	return strings.TrimSpace(c.Content), nil
}

func questionFor(_ context.Context, ec *engine.Context) (feedback.Question, error) {
	out, err := ec.Stash.Artifact(engine.SlotOutput)
	if err != nil {
		return feedback.Question{}, err
	}
	return feedback.Question{
		Prompt:     "Notes on this draft? Leave empty to accept it.",
		Subject:    pathOf(out),
		Repetition: repetition(ec),
	}, nil
}

func pathOf(a artifact.Artifact) string {
	if a == nil {
		return ""
	}
	if p, ok := a.(interface{ Path() string }); ok {
		return p.Path()
	}
	return a.Ref().String()
}

func printProgress(w io.Writer, events <-chan bus.Event, configEvents <-chan config.ReloadEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			ce, ok := ev.Payload.(bus.CycleEvent)
			if !ok {
				continue
			}
			switch ev.Topic {
			case bus.TopicCycleStarted:
				fmt.Fprintf(w, "refining (up to %d rounds)\n", ce.Threshold)
			case bus.TopicCycleRepeat:
				fmt.Fprintf(w, "round %d/%d: notes recorded, regenerating\n", ce.Repetition, ce.Threshold)
			case bus.TopicCycleReleased:
				fmt.Fprintf(w, "round %d/%d: accepted\n", ce.Repetition, ce.Threshold)
			case bus.TopicCycleHalted:
				fmt.Fprintf(w, "round %d/%d: notes still pending, stopping\n", ce.Repetition, ce.Threshold)
			case bus.TopicCycleFailed:
				fmt.Fprintf(w, "round %d failed\n", ce.Repetition)
			}
		case _, ok := <-configEvents:
			if !ok {
				configEvents = nil
				continue
			}
			fmt.Fprintln(w, "config.yaml changed; the next run picks it up")
		}
	}
}

func reportOutcome(w io.Writer, res sessionResult, err error) int {
	switch {
	case err == nil:
		fmt.Fprintf(w, "accepted after %d round(s): %s\n", res.Cycle.Repetitions, res.Output)
		return exitOK
	case errors.Is(err, engine.ErrLoopExhausted):
		fmt.Fprintf(w, "stopped after %d rounds with notes pending; last draft: %s\n", res.Cycle.Repetitions, res.Output)
		return exitHalted
	case errors.Is(err, feedback.ErrCancelled), errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "cancelled")
		return exitError
	default:
		fmt.Fprintf(w, "run failed (%s): %v\n", llm.ClassifyError(err), err)
		return exitError
	}
}
