package services

import (
	"fmt"
	"strings"

	"github.com/vitalloop/vitalloop-backend/internal/types"
)

const diagnosticSystemPrompt = `You are a careful health intake assistant. You ask one focused question at a time to understand the user's complaint. You never diagnose on your own authority, never recommend medication, and advise seeing a clinician for anything urgent. Keep questions short, specific, and answerable by a layperson.`

func nextQuestionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The single next question to ask, or empty when no further question is needed",
			},
			"confidence": map[string]any{
				"type":        "integer",
				"description": "Current confidence 0-100 that enough information has been gathered",
			},
			"ready": map[string]any{
				"type":        "boolean",
				"description": "True when enough information exists to produce the analysis",
			},
		},
		"required":             []string{"question", "confidence", "ready"},
		"additionalProperties": false,
	}
}

func additionalQuestionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "One new question that covers ground no earlier question touched",
			},
		},
		"required":             []string{"question"},
		"additionalProperties": false,
	}
}

func finalAnalysisSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "Plain-language summary of what the answers suggest",
			},
			"possible_causes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"likelihood": map[string]any{"type": "string", "enum": []string{"low", "moderate", "high"}},
					},
					"required":             []string{"name", "likelihood"},
					"additionalProperties": false,
				},
			},
			"recommendations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"confidence": map[string]any{
				"type":        "integer",
				"description": "Confidence 0-100 in this analysis",
			},
		},
		"required":             []string{"summary", "possible_causes", "recommendations", "confidence"},
		"additionalProperties": false,
	}
}

func firstQuestionPrompt(complaint string) string {
	var b strings.Builder
	b.WriteString("A user reports the following complaint:\n\n")
	b.WriteString(complaint)
	b.WriteString("\n\nAsk the single most useful opening question to begin understanding it. Set ready to false.")
	return b.String()
}

func nextQuestionPrompt(complaint string, asked []types.QuestionAnswer) string {
	var b strings.Builder
	b.WriteString("Complaint:\n")
	b.WriteString(complaint)
	b.WriteString("\n\nConversation so far:\n")
	writeTranscript(&b, asked)
	b.WriteString("\nDecide whether enough information has been gathered. If not, ask the single most useful next question. Never repeat or rephrase an earlier question.")
	return b.String()
}

func regeneratePrompt(complaint string, asked []types.QuestionAnswer, rejected string) string {
	var b strings.Builder
	b.WriteString(nextQuestionPrompt(complaint, asked))
	fmt.Fprintf(&b, "\n\nThe question %q was rejected as too similar to one already asked. Ask about something different, or set ready to true if nothing new remains.", rejected)
	return b.String()
}

func additionalQuestionPrompt(complaint string, initial, additional []types.QuestionAnswer, rejected string) string {
	var b strings.Builder
	b.WriteString("Complaint:\n")
	b.WriteString(complaint)
	b.WriteString("\n\nConversation so far:\n")
	writeTranscript(&b, initial)
	if len(additional) > 0 {
		b.WriteString("\nFollow-up questions already asked:\n")
		writeTranscript(&b, additional)
	}
	b.WriteString("\nThe user wants higher confidence in the analysis. Ask one new question that covers ground none of the earlier questions touched.")
	if rejected != "" {
		fmt.Fprintf(&b, " The question %q was rejected as too similar to an earlier one.", rejected)
	}
	return b.String()
}

func finalAnalysisPrompt(complaint string, initial, additional []types.QuestionAnswer) string {
	var b strings.Builder
	b.WriteString("Complaint:\n")
	b.WriteString(complaint)
	b.WriteString("\n\nFull conversation:\n")
	writeTranscript(&b, initial)
	writeTranscript(&b, additional)
	b.WriteString("\nProduce the final analysis. Be honest about uncertainty and always include a recommendation to consult a clinician when symptoms persist or worsen.")
	return b.String()
}

func writeTranscript(b *strings.Builder, qs []types.QuestionAnswer) {
	for i, qa := range qs {
		fmt.Fprintf(b, "Q%d: %s\n", i+1, qa.Question)
		if qa.Answer != "" {
			fmt.Fprintf(b, "A%d: %s\n", i+1, qa.Answer)
		} else {
			fmt.Fprintf(b, "A%d: (unanswered)\n", i+1)
		}
	}
}
