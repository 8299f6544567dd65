package xquery

import (
	"go.uber.org/zap"
)

type Tracer interface {
	Enter(string)
	Leave(string)
	Error(string, error)
}

type discardTracer struct{}

func (_ discardTracer) Enter(_ string)          {}
func (_ discardTracer) Leave(_ string)          {}
func (_ discardTracer) Error(_ string, _ error) {}

type zapTracer struct {
	logger *zap.Logger
	depth  int
}

// TraceWith returns a Tracer writing each rule entered and left by the parser
// and the compiler at debug level.
func TraceWith(logger *zap.Logger) Tracer {
	if logger == nil {
		return discardTracer{}
	}
	return &zapTracer{
		logger: logger.Named("trace"),
	}
}

func (t *zapTracer) Enter(rule string) {
	t.depth++
	t.logger.Debug("start compile expr", zap.String("expression", rule), zap.Int("depth", t.depth))
}

func (t *zapTracer) Leave(rule string) {
	t.depth--
	t.logger.Debug("done compile expr", zap.String("expression", rule), zap.Int("depth", t.depth))
}

func (t *zapTracer) Error(rule string, err error) {
	t.logger.Debug("error compile expr", zap.String("expression", rule), zap.Int("depth", t.depth), zap.Error(err))
}
