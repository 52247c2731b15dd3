package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/go-refine/internal/audit"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitUsage  = 2
	exitHalted = 3
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s run -prompt <file> -out <path> [flags]
                              Generate a document, ask for notes and regenerate
                              until the reviewer has none left
  %s status [-cycle <id>] [-limit N] [-json]
                              Show recent feedback cycles, or one cycle's journal
  %s doctor [-json]           Run diagnostic checks
  %s help                     Show this help

RUN FLAGS:
  -prompt <file>              Brief handed to the model every round (required)
  -out <path>                 Output document, relative to target_dir (required)
  -role <name>                Role recorded on every step (default: thinker)
  -threshold N                Stop after N rounds with notes pending
  -feedback tui|stdin|file    How reviewer notes are captured
  -verbose                    Also log to stdout

EXIT CODES:
  0  reviewer accepted the draft
  1  error
  2  usage error
  3  round limit reached with notes still pending

ENVIRONMENT VARIABLES:
  REFINE_HOME             Data directory (default: ~/.refine)
  REFINE_LOG_LEVEL        debug, info, warn or error
  REFINE_TARGET_DIR       Directory outputs and the stream are written under
  REFINE_THRESHOLD        Round limit
  REFINE_FEEDBACK_MODE    tui, stdin or file
  GEMINI_API_KEY          Key for the google provider
  ANTHROPIC_API_KEY       Key for the anthropic provider
  OPENAI_API_KEY          Key for openai and openai_compatible providers
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(exitUsage)
	}
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(exitOK)
	case "run":
		os.Exit(runRunCommand(ctx, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(exitUsage)
	}
}

// fatalStartup reports a startup failure as a structured line and returns the
// exit code to use.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), audit.DecisionFatal, "", 0, reasonCode+": "+message)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	}
	fmt.Fprintf(
		os.Stderr,
		`{"timestamp":"%s","level":"ERROR","component":"refine","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
		time.Now().UTC().Format(time.RFC3339Nano),
		reasonCode,
		message,
	)
	return exitError
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
