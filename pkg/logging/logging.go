// Package logging はzerologによる構造化ログの初期化を提供する。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// 出力形式。
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New は指定したレベル・形式でロガーを生成する。
// 不明なレベルはinfoとして扱う。
func New(w io.Writer, level, format, service string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(format, FormatConsole) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Init はグローバルロガーを設定し、設定後のロガーを返す。
func Init(level, format, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := New(os.Stdout, level, format, service)
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger
}

// ParseLevel はレベル名をzerologのレベルに変換する。
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
