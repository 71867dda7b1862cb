package services

import (
	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

// ConfidenceConfig tunes when the questioning loop stops. The early-stop
// threshold came out of product tuning, not first principles, so it stays
// configuration rather than a constant.
type ConfidenceConfig struct {
	EarlyStopThreshold int
	MinQuestions       int
	MaxQuestions       int
}

func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		EarlyStopThreshold: 85,
		MinQuestions:       5,
		MaxQuestions:       6,
	}
}

func LoadConfidenceConfig(log *logger.Logger) ConfidenceConfig {
	def := DefaultConfidenceConfig()
	return ConfidenceConfig{
		EarlyStopThreshold: utils.GetEnvAsInt("DIAGNOSTIC_EARLY_STOP_CONFIDENCE", def.EarlyStopThreshold, log),
		MinQuestions:       utils.GetEnvAsInt("DIAGNOSTIC_MIN_QUESTIONS", def.MinQuestions, log),
		MaxQuestions:       utils.GetEnvAsInt("DIAGNOSTIC_MAX_INITIAL_QUESTIONS", def.MaxQuestions, log),
	}
}

// shouldContinueQuestioning decides whether the initial questioning phase
// keeps going. Pure: confidence values come from the generator response and
// are never invented here.
func shouldContinueQuestioning(current, target, questionsAsked int, cfg ConfidenceConfig) bool {
	if questionsAsked >= cfg.MaxQuestions {
		return false
	}
	if current >= target {
		return false
	}
	if current >= cfg.EarlyStopThreshold && questionsAsked >= cfg.MinQuestions {
		return false
	}
	return true
}
