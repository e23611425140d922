package logger_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabkit/channels/pkg/logger"
)

type slogLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Room  string `json:"room"`
}

func TestSlogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cases := []struct {
		level string
		write func(string, ...any)
	}{
		{"ERROR", log.Error},
		{"WARN", log.Warn},
		{"INFO", log.Info},
		{"DEBUG", log.Debug},
	}

	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			buf.Reset()
			tc.write("entry drained", "room", "doc-1")

			var line slogLine
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, slogLine{Level: tc.level, Msg: "entry drained", Room: "doc-1"}, line)
		})
	}
}
