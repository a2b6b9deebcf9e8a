package otel

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	otellog "go.opentelemetry.io/otel/log"
)

const logScope = "authsessions"

// SetupLogging configures the global zerolog logger: JSON to stdout at level, tagged with service,
// and mirrored to provider as OTel log records when provider is non-nil.
// It also makes log.Ctx fall back to the global logger for contexts that carry none.
func SetupLogging(level, service string, provider otellog.LoggerProvider) error {
	l, err := newLogger(os.Stdout, level, service, provider)
	if err != nil {
		return err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

func newLogger(w io.Writer, level, service string, provider otellog.LoggerProvider) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("logging: invalid level %q: %w", level, err)
		}
		lvl = parsed
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
	if provider != nil {
		l = l.Hook(NewLogHook(provider.Logger(logScope)))
	}
	return l, nil
}

// Emitter is the subset of otellog.Logger the hook uses.
type Emitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// LogHook forwards zerolog events to an OTel logger. Only the message and level are carried;
// structured fields stay in the JSON stream.
type LogHook struct {
	emitter Emitter
}

// NewLogHook returns a hook that emits on e.
func NewLogHook(e Emitter) LogHook {
	return LogHook{emitter: e}
}

// Run implements zerolog.Hook.
func (h LogHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if h.emitter == nil || level == zerolog.Disabled {
		return
	}
	ctx := e.GetCtx()
	if ctx == nil {
		ctx = context.Background()
	}
	var rec otellog.Record
	now := time.Now()
	rec.SetTimestamp(now)
	rec.SetObservedTimestamp(now)
	rec.SetSeverity(severity(level))
	rec.SetSeverityText(level.String())
	rec.SetBody(otellog.StringValue(msg))
	h.emitter.Emit(ctx, rec)
}

func severity(level zerolog.Level) otellog.Severity {
	switch level {
	case zerolog.TraceLevel:
		return otellog.SeverityTrace
	case zerolog.DebugLevel:
		return otellog.SeverityDebug
	case zerolog.InfoLevel:
		return otellog.SeverityInfo
	case zerolog.WarnLevel:
		return otellog.SeverityWarn
	case zerolog.ErrorLevel:
		return otellog.SeverityError
	case zerolog.FatalLevel:
		return otellog.SeverityFatal
	case zerolog.PanicLevel:
		return otellog.SeverityFatal4
	default:
		return otellog.SeverityUndefined
	}
}
