package igclient

import (
	"context"

	mcplogging "github.com/XiaoConstantine/mcp-go/pkg/logging"

	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
)

// loggerAdapter bridges the process logger to the mcp-go logging interface.
type loggerAdapter struct {
	ctx context.Context
}

func newLoggerAdapter() mcplogging.Logger {
	return &loggerAdapter{ctx: context.Background()}
}

func (a *loggerAdapter) Debug(msg string, args ...interface{}) {
	logging.GetLogger().Debug(a.ctx, msg, args...)
}

func (a *loggerAdapter) Info(msg string, args ...interface{}) {
	logging.GetLogger().Info(a.ctx, msg, args...)
}

func (a *loggerAdapter) Warn(msg string, args ...interface{}) {
	logging.GetLogger().Warn(a.ctx, msg, args...)
}

func (a *loggerAdapter) Error(msg string, args ...interface{}) {
	logging.GetLogger().Error(a.ctx, msg, args...)
}
