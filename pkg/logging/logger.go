package logging

import (
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Config struct {
	Level       string
	Development bool
}

// New builds the service logger. Request, run and trace identifiers carried
// on the log context are copied into every entry.
func New(cfg Config) (ectologger.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, err
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return zapadapter.NewZapEctoLogger(zapLogger, enrich), nil
}

// Nop discards everything.
func Nop() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func enrich(msg ectologger.EctoLogMessage) ectologger.EctoLogMessage {
	if msg.Ctx == nil {
		return msg
	}
	if msg.Fields == nil {
		msg.Fields = map[string]any{}
	}

	add := func(key, value string) {
		if value == "" {
			return
		}
		if _, exists := msg.Fields[key]; !exists {
			msg.Fields[key] = value
		}
	}

	add("request_id", fernctx.GetRequestID(msg.Ctx))
	add("linking_run_id", fernctx.GetRunID(msg.Ctx))
	add("trace_id", tracing.GetTraceID(msg.Ctx))
	add("span_id", tracing.GetSpanID(msg.Ctx))

	return msg
}
