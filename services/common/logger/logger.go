package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
)

// New builds the service logger. Production uses JSON with ISO8601
// timestamps, anything else the colored development encoder.
func New(service, env string) (*zap.Logger, error) {
	return NewWithWriter(service, env, nil)
}

// NewWithWriter tees log lines to w as JSON in addition to stdout.
func NewWithWriter(service, env string, w io.Writer) (*zap.Logger, error) {
	config := encoderConfig(env)

	if w == nil {
		log, err := config.Build()
		if err != nil {
			return nil, err
		}
		return log.With(zap.String("service", service)), nil
	}

	level := zap.NewAtomicLevelAt(config.Level.Level())
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.AddSync(os.Stdout), level)
	cwCore := zapcore.NewCore(zapcore.NewJSONEncoder(config.EncoderConfig), zapcore.AddSync(w), level)

	log := zap.New(zapcore.NewTee(consoleCore, cwCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return log.With(zap.String("service", service)), nil
}

// FromEnv builds the logger and, when CLOUDWATCH_ENABLED=true, attaches a
// CloudWatch Logs stream for service. CloudWatch failures fall back to
// stdout only.
func FromEnv(ctx context.Context, service string) *zap.Logger {
	env := os.Getenv("ENV")
	if os.Getenv("CLOUDWATCH_ENABLED") == "true" {
		if cfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
			if cw, err := awspkg.NewCloudWatchLogsClient(ctx, cfg, service); err == nil {
				if log, err := NewWithWriter(service, env, cw); err == nil {
					return log
				}
			}
		}
	}
	log, err := New(service, env)
	if err != nil {
		return zap.NewExample().With(zap.String("service", service))
	}
	return log
}

func encoderConfig(env string) zap.Config {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return config
}
