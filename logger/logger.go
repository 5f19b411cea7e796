package logger

import (
	"os"
	"strings"

	"github.com/celer-network/oracle-updater/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	SinkDatadog = "datadog"
	SinkLogtail = "logtail"
)

// New builds the process logger: a console core teed with one core per
// configured remote sink. Sinks without a token are skipped.
func New(cfg types.LogConfig) (*ZapLogger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	var sinks []*sinkWriter
	for _, sc := range cfg.Sinks {
		if sc.Token == "" {
			continue
		}
		core, w, err := newSinkCore(sc)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, err
		}
		w.start()
		sinks = append(sinks, w)
		cores = append(cores, core)
	}

	zl := NewZapLogger(zap.New(zapcore.NewTee(cores...)).Sugar())
	zl.sinks = sinks
	return zl, nil
}

// ParseLevel accepts zap level names plus "notice", which maps to warn.
// An empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return zapcore.InfoLevel, nil
	case "notice":
		return zapcore.WarnLevel, nil
	case "trace":
		return zapcore.DebugLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, errors.Wrapf(types.ErrConfigInvalid, "unknown log level %q", s)
	}
	return l, nil
}

func newSinkCore(sc types.LogSinkConfig) (zapcore.Core, *sinkWriter, error) {
	level, err := ParseLevel(sc.Level)
	if err != nil {
		return nil, nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "message"

	var (
		url     string
		headers map[string]string
	)
	switch sc.Type {
	case SinkDatadog:
		encCfg.LevelKey = "status"
		url = datadogIntakeURL(sc.Region)
		headers = map[string]string{"DD-API-KEY": sc.Token}
	case SinkLogtail:
		url = "https://in.logs.betterstack.com"
		headers = map[string]string{"Authorization": "Bearer " + sc.Token}
	default:
		return nil, nil, errors.Wrapf(types.ErrConfigInvalid, "unknown log sink type %q", sc.Type)
	}
	if sc.URL != "" {
		url = sc.URL
	}

	w := newSinkWriter(sc.Type, url, headers, defaultSinkBuffer)
	return &sinkCore{
		LevelEnabler: level,
		enc:          zapcore.NewJSONEncoder(encCfg),
		w:            w,
	}, w, nil
}

func datadogIntakeURL(region string) string {
	site := "datadoghq.com"
	switch strings.ToLower(region) {
	case "eu":
		site = "datadoghq.eu"
	case "us3":
		site = "us3.datadoghq.com"
	case "us5":
		site = "us5.datadoghq.com"
	case "ap1":
		site = "ap1.datadoghq.com"
	}
	return "https://http-intake.logs." + site + "/api/v2/logs"
}
