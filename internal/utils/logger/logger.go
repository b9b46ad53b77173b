package logger

import (
	"os"
	"strings"

	"golang.org/x/exp/slog"
	"golang.org/x/term"

	"github.com/fatih/color"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// New builds the logger for an environment: colored text for local runs,
// JSON at debug for dev and JSON at info for prod.
func New(env string) *slog.Logger {
	return NewLevel(env, "")
}

// NewLevel is New with an explicit level ("debug", "info", "warn",
// "error"). An empty or unknown level keeps the environment default.
func NewLevel(env, level string) *slog.Logger {
	switch env {
	case envLocal:
		return setupPrettySlog(parseLevel(level, slog.LevelDebug))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level, slog.LevelDebug)}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level, slog.LevelInfo)}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level, slog.LevelInfo)}))
	}
}

func parseLevel(s string, def slog.Level) slog.Level {
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(strings.ToUpper(s))) != nil {
		return def
	}
	return l
}

func setupPrettySlog(level slog.Level) *slog.Logger {
	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))

	opts := PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: level},
	}
	return slog.New(opts.NewPrettyHandler(os.Stdout))
}
