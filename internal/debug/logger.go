package debug

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// Options controls Setup.
type Options struct {
	// Writer receives log lines. Usually os.Stderr.
	Writer io.Writer
	// JSON selects the JSON handler instead of text.
	JSON bool
	// ServiceName names the OTel logger when Export is set.
	ServiceName string
	// Export also sends records to the global OTel logger provider.
	Export bool
}

// Level returns the log level implied by the verbosity switches.
func Level() slog.Level {
	switch {
	case Enabled():
		return slog.LevelDebug
	case IsQuiet():
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Setup builds the process logger, installs it as slog's default and
// returns it.
func Setup(opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: Level()}

	var local slog.Handler
	if opts.JSON {
		local = slog.NewJSONHandler(opts.Writer, hopts)
	} else {
		local = slog.NewTextHandler(opts.Writer, hopts)
	}

	handler := slog.Handler(NewTraceHandler(local))
	if opts.Export {
		exported := otelslog.NewHandler(opts.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)
		handler = fanout{handler, exported}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// TraceHandler adds the active OTel trace and span ids to each record.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
