package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farmassist/internal/util"
	"farmassist/pkg/ai"
	"farmassist/pkg/domain"
)

// MaxAdvisorImageBytes caps the crop photo sent with an advisor question.
const MaxAdvisorImageBytes = 5 << 20

const defaultAdvisorLanguage = "en"

var languageInstructions = map[string]string{
	"hi": "केवल हिंदी में जवाब दें। कोई अंग्रेजी शब्द नहीं। सिर्फ देवनागरी लिपि का उपयोग करें।",
	"ta": "தமிழில் மட்டும் பதில் சொல்லுங்கள். ஆங்கிலம் கூடாது.",
	"te": "తెలుగులో మాత్రమే సమాధానం ఇవ్వండి। ఇంగ్లీష్ వద్దు.",
	"bn": "শুধু বাংলায় উত্তর দিন। ইংরেজি নয়।",
	"kn": "ಕನ್ನಡದಲ್ಲಿ ಮಾತ್ರ ಉತ್ತರಿಸಿ। ಇಂಗ್ಲಿಷ್ ಬೇಡ.",
	"en": "Answer ONLY in English language.",
}

const advisorTemplate = `You are a professional Indian agricultural advisor. Be precise and concise.

CRITICAL: %s
Answer in 3-5 sentences maximum. Be direct and actionable.

Question: %s`

// AdvisorRequest is a free-form question with an optional crop photo.
type AdvisorRequest struct {
	Prompt   string
	Language string
	Image    *ai.InlineImage
}

// AdvisorPrompt composes the model prompt. Unknown languages fall back to English.
func AdvisorPrompt(question, language string) string {
	instruction, ok := languageInstructions[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		instruction = languageInstructions[defaultAdvisorLanguage]
	}
	return fmt.Sprintf(advisorTemplate, instruction, question)
}

// AskAdvisor sends the question to the configured answer generator.
func (a *App) AskAdvisor(ctx context.Context, req AdvisorRequest) (string, error) {
	if a.generator == nil {
		return "", domain.ErrGeneratorUnavailable
	}
	question := strings.TrimSpace(req.Prompt)
	if question == "" {
		return "", domain.Invalid("prompt", "prompt is required")
	}
	if img := req.Image; img != nil {
		if len(img.Data) == 0 {
			return "", domain.Invalid("file", "image is empty")
		}
		if len(img.Data) > MaxAdvisorImageBytes {
			return "", domain.Invalid("file", "image must be at most %d MiB", MaxAdvisorImageBytes>>20)
		}
		if !strings.HasPrefix(strings.ToLower(img.MIMEType), "image/") {
			return "", domain.Invalid("file", "file must be an image")
		}
	}

	answer, err := a.generator.Generate(ctx, ai.Prompt{
		Text:  AdvisorPrompt(question, req.Language),
		Image: req.Image,
	})
	a.recorder.UpstreamCall("generator", err)
	if errors.Is(err, context.Canceled) {
		return "", err
	}
	if err != nil {
		util.LoggerFromContext(ctx).Error("generate advisor answer", "err", err)
		return "", ErrGeneratorFailed
	}
	return answer, nil
}
