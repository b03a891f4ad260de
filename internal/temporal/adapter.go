package temporal

import (
	"fmt"
	"reflect"
	"time"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// sdkKeys renames the tag keys the Temporal SDK attaches to its own log lines
// to the snake_case keys the gateway and activities log with.
var sdkKeys = map[string]string{
	"Namespace":    "namespace",
	"TaskQueue":    "task_queue",
	"WorkerID":     "worker_id",
	"WorkflowType": "workflow_type",
	"WorkflowID":   "workflow_id",
	"RunID":        "run_id",
	"Attempt":      "attempt",
	"ActivityID":   "activity_id",
	"ActivityType": "activity_type",
	"Error":        "error",
}

// Logger routes Temporal SDK and turn workflow logs through zap.
type Logger struct {
	z *zap.Logger
}

var _ log.WithLogger = (*Logger)(nil)

func NewLogger(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.z.Debug(msg, fields(keyvals)...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.z.Info(msg, fields(keyvals)...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.z.Warn(msg, fields(keyvals)...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.z.Error(msg, fields(keyvals)...) }

func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{z: l.z.With(fields(keyvals)...)}
}

// fields pairs keyvals into zap fields. Non-string keys and a trailing
// key without a value are dropped.
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if renamed, ok := sdkKeys[key]; ok {
			key = renamed
		}
		out = append(out, field(key, keyvals[i+1]))
	}
	return out
}

func field(key string, val interface{}) (f zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			f = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()

	switch v := val.(type) {
	case nil:
		return zap.String(key, "<nil>")
	case error:
		return zap.String(key, v.Error())
	case time.Duration:
		return zap.Duration(key, v)
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, "<"+reflect.TypeOf(val).Kind().String()+">")
	}
	return zap.Any(key, val)
}
