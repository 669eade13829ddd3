package gemini

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Oracle adapts a Generator to the classification contract.
type Oracle struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

const defaultMaxLogLength = 200

func NewOracle(generator contentGenerator, maxLogLength int, log *zap.Logger) *Oracle {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Oracle{
		generator: generator,
		logger:    logger.WithOracle(log, "gemini", generator.Model()),
		maxLogLen: maxLogLength,
	}
}

func (o *Oracle) Classify(ctx context.Context, req ai.ClassifyRequest) (string, error) {
	o.logger.Debug("gemini classify request",
		zap.String("reference_date", req.ReferenceDate.Format("2006-01-02")),
		zap.Int("content_length", utf8.RuneCountInString(req.Content)),
		zap.String("content_preview", utils.TruncateForLog(req.Content, o.maxLogLen)),
	)

	raw, err := o.generator.GenerateContent(ctx, req.Instructions, req.Content)
	if err != nil {
		return "", err
	}

	o.logger.Debug("gemini classify response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, o.maxLogLen)),
	)

	return raw, nil
}
