// Package llm turns a prompt into generated text. Providers return raw
// choices; Imaginer enforces the single-choice contract and cleans the text.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	otelPkg "github.com/basket/go-refine/internal/otel"
	"github.com/basket/go-refine/internal/safety"
)

// Choice is one candidate answer.
type Choice struct {
	Text         string
	FinishReason string
}

// Completion is a provider's raw answer.
type Completion struct {
	Model   string
	Choices []Choice
	// Raw is the provider payload, kept for error reports.
	Raw string
}

// Completer calls a language model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// Imaginer generates text from a prompt.
type Imaginer struct {
	completer Completer
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *otelPkg.Metrics
}

type Option func(*Imaginer)

func WithLogger(l *slog.Logger) Option { return func(im *Imaginer) { im.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(im *Imaginer) { im.tracer = t } }

func WithMetrics(m *otelPkg.Metrics) Option { return func(im *Imaginer) { im.metrics = m } }

func NewImaginer(c Completer, opts ...Option) *Imaginer {
	im := &Imaginer{
		completer: c,
		logger:    slog.Default(),
		tracer:    nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Imagine returns the trimmed text of the single choice the provider
// returned. If the whole answer is one fenced code block, the fence is
// removed. Zero choices, several choices or an empty choice fail with a
// *ResponseShapeError.
func (im *Imaginer) Imagine(ctx context.Context, prompt string) (string, error) {
	name := im.completer.Name()
	ctx, span := otelPkg.StartClientSpan(ctx, im.tracer, "llm.imagine", otelPkg.AttrModel.String(name))
	defer span.End()

	start := time.Now()
	comp, err := im.completer.Complete(ctx, prompt)
	if im.metrics != nil {
		im.metrics.LLMCallDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", name)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		im.logger.Error("llm call failed", "provider", name, "error_class", string(ClassifyError(err)), "error", err)
		return "", fmt.Errorf("%s: %w", name, err)
	}

	text, err := single(name, comp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "response shape")
		im.logger.Error("llm response rejected", "provider", name, "error", err)
		return "", err
	}

	model := comp.Model
	if model == "" {
		model = name
	}
	usage := EstimateUsage(model, prompt, text)
	if im.metrics != nil {
		im.metrics.LLMTokens.Add(ctx, int64(usage.PromptTokens),
			metric.WithAttributes(attribute.String("provider", name), attribute.String("direction", "prompt")))
		im.metrics.LLMTokens.Add(ctx, int64(usage.CompletionTokens),
			metric.WithAttributes(attribute.String("provider", name), attribute.String("direction", "completion")))
	}
	im.logger.Info("llm call completed", "provider", name, "model", model,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens,
		"cost_usd", usage.CostUSD, "duration_ms", time.Since(start).Milliseconds())

	if leaks := safety.ScanSecrets(text); len(leaks) > 0 {
		kinds := safety.Kinds(leaks)
		span.AddEvent("secret.suspected", trace.WithAttributes(attribute.StringSlice("kinds", kinds)))
		im.logger.Warn("generated content looks like it contains secrets", "provider", name, "kinds", kinds)
	}
	return text, nil
}

func single(name string, comp *Completion) (string, error) {
	if comp == nil {
		return "", &ResponseShapeError{Provider: name, Reason: "no completion"}
	}
	switch n := len(comp.Choices); {
	case n == 0:
		return "", &ResponseShapeError{Provider: name, Reason: "no choices", Raw: comp.Raw}
	case n > 1:
		return "", &ResponseShapeError{Provider: name, Reason: "more than one choice", Choices: n, Raw: comp.Raw}
	}
	// An answer that is only an empty fence carries no text either.
	text := StripFence(comp.Choices[0].Text)
	if text == "" {
		return "", &ResponseShapeError{Provider: name, Reason: "choice has no text", Choices: 1, Raw: comp.Raw}
	}
	return text, nil
}

// StripFence trims s and, when the entire text is a single fenced code
// block, returns the block body. Anything else is returned trimmed.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		// ```inline```
		inner := s[3 : len(s)-3]
		if strings.Contains(inner, "```") {
			return s
		}
		return strings.TrimSpace(inner)
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last != "```" {
		return s
	}
	body := lines[1 : len(lines)-1]
	for _, l := range body {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			return s
		}
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
