package gologger

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	ReqIDKey ctxKey = "reqID"
	RunIDKey ctxKey = "runID"
)

func init() {
	l := NewLogger()
	zerolog.DefaultContextLogger = &l
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		fun := runtime.FuncForPC(pc)
		if fun != nil {
			funName := fun.Name()
			slash := strings.LastIndex(funName, "/")
			if slash > 0 {
				funName = funName[slash+1:]
			}
			function = " " + funName + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

func NewLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	logger = logger.Hook(CallerHook{})

	if os.Getenv("PRETTY") == "1" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return logger
}

// RunLogger returns the context logger enriched with the relation and run id,
// and a context carrying it.
func RunLogger(ctx context.Context, relation, runID string) (context.Context, *zerolog.Logger) {
	l := zerolog.Ctx(ctx).With().Str("relation", relation).Str("runID", runID).Logger()
	ctx = context.WithValue(ctx, RunIDKey, runID)
	ctx = l.WithContext(ctx)
	return ctx, zerolog.Ctx(ctx)
}

// LogDuration logs how long a run step took.
func LogDuration(l *zerolog.Logger, step string, start time.Time) {
	d := time.Since(start)
	l.Debug().Str("step", step).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("finished step")
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
