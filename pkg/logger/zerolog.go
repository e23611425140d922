package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// LogBuild assembles a zerolog-backed logger writing to a file, a buffer or stdout.
type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

// LogData is the result of LogBuild.Make. LogFile is set when the builder
// was given a path, and must be closed by the caller.
type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// WithLevel parses a zerolog level name such as "debug" or "warn".
func (build *LogBuild) WithLevel(level string) (*LogBuild, error) {
	if level == "" {
		return build, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	build.level = lvl
	return build, nil
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Zerolog adapts a zerolog.Logger to Logger.
type Zerolog struct {
	zl zerolog.Logger
}

var _ Logger = (*Zerolog)(nil)

func NewZerolog(zl zerolog.Logger) *Zerolog {
	return &Zerolog{zl: zl}
}

func (z *Zerolog) Error(msg string, args ...any) {
	z.zl.Error().Fields(args).Msg(msg)
}

func (z *Zerolog) Warn(msg string, args ...any) {
	z.zl.Warn().Fields(args).Msg(msg)
}

func (z *Zerolog) Info(msg string, args ...any) {
	z.zl.Info().Fields(args).Msg(msg)
}

func (z *Zerolog) Debug(msg string, args ...any) {
	z.zl.Debug().Fields(args).Msg(msg)
}
