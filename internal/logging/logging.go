package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/mbusdconf/internal/config"
)

// AppName tags every entry and the Loki stream of this tool.
const AppName = "mbusdconf"

// Setup creates a zerolog logger according to the provided configuration.
// Console output goes to out, or stdout when out is nil.
func Setup(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout}
	}

	writers := []io.Writer{out}
	cleanup := func() {}

	if cfg.Loki.Enabled {
		lokiWriter, closer, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, lokiWriter)
		cleanup = func() {
			closer()
		}
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).With().Timestamp().Str("app", AppName).Logger().Level(level)
	return logger, cleanup, nil
}

// Component derives the logger of one part of the tool (editor, probe,
// notify), so entries of a session, a probe run and a broker can be told apart.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func newLokiWriter(cfg config.LokiConfig) (io.Writer, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}

	writer := &lokiWriter{client: client, labels: lokiLabels(cfg.Labels)}
	cleanup := func() {
		client.Stop()
	}
	return writer, cleanup, nil
}

// lokiLabels always carries app and, when known, host. Configured labels
// override both.
func lokiLabels(raw map[string]string) model.LabelSet {
	labels := model.LabelSet{"app": AppName}
	if host, err := os.Hostname(); err == nil && host != "" {
		labels["host"] = model.LabelValue(host)
	}
	for k, v := range raw {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	return labels
}

type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := l.client.Handle(l.labels, time.Now(), entry)
	return len(p), err
}
