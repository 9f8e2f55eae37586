package emit

import "go.uber.org/zap"

// LogEmitter implements Emitter by writing events to a zap logger.
//
// Events carrying Meta["error"] and retries are logged at warn level;
// everything else is logged at debug level, except run outcomes which are
// logged at info.
//
// Example output (production encoder):
//
//	{"level":"info","msg":"run suspended","run_id":"6f1c…","step":7,"node_id":"request_verification"}
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger discards events.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger.Named("engine")}
}

// Emit logs the event with its fields as structured zap fields.
func (l *LogEmitter) Emit(event Event) {
	fields := make([]zap.Field, 0, 3+len(event.Meta))
	fields = append(fields,
		zap.String("run_id", event.RunID),
		zap.Int("step", event.Step),
		zap.String("node_id", event.NodeID),
	)
	for k, v := range event.Meta {
		fields = append(fields, zap.Any(k, v))
	}

	_, hasErr := event.Meta["error"]
	switch {
	case hasErr || event.Msg == "node retry":
		l.logger.Warn(event.Msg, fields...)
	case event.Msg == "node completed":
		l.logger.Debug(event.Msg, fields...)
	default:
		l.logger.Info(event.Msg, fields...)
	}
}
