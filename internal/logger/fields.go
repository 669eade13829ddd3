package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the oracle provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the oracle model identifier.
	FieldModel = "ai_model"
	// FieldUser identifies the mailbox owner whose mail is being processed.
	FieldUser = "user"
	// FieldRunID correlates all entries of one pipeline run.
	FieldRunID = "run_id"
	// FieldMessageID identifies a single email inside a run.
	FieldMessageID = "message_id"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to logger, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// WithOracle attaches the provider and model of an oracle backend.
func WithOracle(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}

// WithMessage attaches the user and message identifiers of one processed email.
func WithMessage(logger *zap.Logger, user, messageID string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldUser, Value: user},
		StringField{Key: FieldMessageID, Value: messageID},
	)...)
}
