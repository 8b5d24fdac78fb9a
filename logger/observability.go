package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"chat-bridge/conversation"
)

// ObservabilityLogger provides structured JSON logging using logrus
type ObservabilityLogger struct {
	logger *logrus.Logger
	base   *logrus.Entry
	file   *os.File
}

// Component constants for consistent labeling
const (
	ComponentProxy      = "proxy_core"
	ComponentRepair     = "sequence_repair"
	ComponentTranslator = "stream_translator"
	ComponentBackend    = "backend_client"
	ComponentStore      = "request_store"
	ComponentConfig     = "configuration"
)

// Category constants for log classification
const (
	CategoryRequest        = "request"
	CategoryTransformation = "transformation"
	CategorySuccess        = "success"
	CategoryWarning        = "warning"
	CategoryError          = "error"
	CategoryHealth         = "health"
	CategoryValidation     = "validation"
	CategoryDebug          = "debug"
)

const serviceName = "chat-bridge"

// NewObservabilityLogger creates a logger writing to logDir/bridge.jsonl, or
// to stdout when logDir is empty
func NewObservabilityLogger(logDir, level string) (*ObservabilityLogger, error) {
	var (
		out  io.Writer = os.Stdout
		file *os.File
	)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(logDir, "bridge.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		out, file = f, f
	}

	o := NewWithWriter(out)
	o.file = file
	if err := o.SetLevel(level); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

// NewWithWriter creates an info-level logger writing JSON lines to w
func NewWithWriter(w io.Writer) *ObservabilityLogger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(logrus.InfoLevel)

	return &ObservabilityLogger{
		logger: logger,
		base:   logger.WithField("service", serviceName),
	}
}

// SetLevel changes the minimum level. It is safe to call while logging.
func (o *ObservabilityLogger) SetLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	o.logger.SetLevel(parsed)
	return nil
}

// Level returns the current minimum level
func (o *ObservabilityLogger) Level() logrus.Level {
	return o.logger.GetLevel()
}

// Close closes the log file
func (o *ObservabilityLogger) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

func (o *ObservabilityLogger) log(level logrus.Level, component, category, requestID, message string, fields map[string]interface{}) {
	if !o.logger.IsLevelEnabled(level) {
		return
	}
	entry := o.base.WithFields(logrus.Fields{
		"component": component,
		"category":  category,
	})
	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	entry.WithFields(fields).Log(level, message)
}

func (o *ObservabilityLogger) Debug(component, category, requestID, message string, fields map[string]interface{}) {
	o.log(logrus.DebugLevel, component, category, requestID, message, fields)
}

func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	o.log(logrus.InfoLevel, component, category, requestID, message, fields)
}

func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	o.log(logrus.WarnLevel, component, category, requestID, message, fields)
}

func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	o.log(logrus.ErrorLevel, component, category, requestID, message, fields)
}

// Repair logs a history that had to be repaired. Valid histories are not
// logged.
func (o *ObservabilityLogger) Repair(requestID string, report conversation.Report, fields map[string]interface{}) {
	if !report.Changed() {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["dropped_invocations"] = report.DroppedInvocations
	fields["orphaned_results"] = report.OrphanedResults
	fields["stray_results"] = report.StrayResults
	fields["dropped_turns"] = report.DroppedTurns
	o.Warn(ComponentRepair, CategoryTransformation, requestID, "Repaired conversation history", fields)
}

// StreamSummary logs the outcome of one translated stream
func (o *ObservabilityLogger) StreamSummary(requestID, stopReason string, toolCalls, deferredBlocks int, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["stop_reason"] = stopReason
	fields["tool_calls"] = toolCalls
	if deferredBlocks > 0 {
		fields["deferred_blocks"] = deferredBlocks
		o.Info(ComponentTranslator, CategoryTransformation, requestID, "Interleaved tool calls emitted at end of turn", fields)
		return
	}
	o.Debug(ComponentTranslator, CategorySuccess, requestID, "Stream translated", fields)
}
