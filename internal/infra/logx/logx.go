package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvLevel 覆盖配置中的日志级别。
const EnvLevel = "FINDSIG_LOG_LEVEL"

// Config 是日志器配置。
type Config struct {
	// Level: debug|info|warn|error。无法识别时按 info。
	Level string
	// Pretty 使用带颜色的人类可读输出；否则每行一个 JSON 对象。
	Pretty bool
	// Output 默认 os.Stderr。stdout 只留给感染行。
	Output io.Writer
}

// New 构造 zerolog 日志器。
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := parseLevel(cfg.Level)
	if v := strings.TrimSpace(os.Getenv(EnvLevel)); v != "" {
		level = parseLevel(v)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Pretty 根据 log_format 与 stderr 是否为终端决定输出形态。
func Pretty(format string, tty bool) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "pretty":
		return true
	case "json":
		return false
	default:
		return tty
	}
}

// ValidLevel 报告 s 是否为受支持的级别名（空串视为有效，表示默认）。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
