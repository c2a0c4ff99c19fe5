package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mensetsu/internal/telemetry"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 30 * time.Second

// Instrumented decorates a Generator with a per-call timeout, tracing, a
// latency histogram, and error classification: every failure it returns
// wraps ErrUnavailable.
type Instrumented struct {
	next     Generator
	provider string
	timeout  time.Duration
	logger   *slog.Logger
	duration metric.Float64Histogram
}

// Instrument wraps next. A non-positive timeout selects DefaultTimeout.
func Instrument(next Generator, provider string, timeout time.Duration, logger *slog.Logger) *Instrumented {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dur, _ := telemetry.Meter("mensetsu/generation").Float64Histogram("mensetsu.generation.duration",
		metric.WithDescription("Latency of generation calls"),
		metric.WithUnit("ms"),
	)
	return &Instrumented{next: next, provider: provider, timeout: timeout, logger: logger, duration: dur}
}

// Text implements Generator.
func (g *Instrumented) Text(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.call(ctx, "text", func(ctx context.Context) error {
		var err error
		out, err = g.next.Text(ctx, prompt)
		if err == nil && out == "" {
			err = errors.New("empty reply")
		}
		return err
	})
	return out, err
}

// Structured implements Generator.
func (g *Instrumented) Structured(ctx context.Context, name, prompt string, out any) error {
	return g.call(ctx, name, func(ctx context.Context) error {
		return g.next.Structured(ctx, name, prompt, out)
	})
}

func (g *Instrumented) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("mensetsu/generation").Start(ctx, "generation."+op)
	defer span.End()
	span.SetAttributes(attribute.String("generation.provider", g.provider))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("generation call failed",
			"provider", g.provider, "op", op, "duration_ms", elapsed.Milliseconds(), "error", err)
	}
	if g.duration != nil {
		g.duration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
			attribute.String("provider", g.provider),
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	return nil
}
