package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

const (
	minTLDRLength    = 100
	tooShortForTLDR  = "Email is too short to summarize."
	autocompleteStop = "\n"
)

// =============================================================================
// TLDR
// =============================================================================

const tldrSystemPrompt = "You are a professional email summarizer. Create concise, actionable TLDR summaries that highlight the most important information and action items from emails. Use bullet points and clear, professional language."

// TLDR condenses one email into a few bullet points. Bodies shorter than 100
// characters after cleanup are answered locally.
func (s *Service) TLDR(ctx context.Context, content, subject string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if content == "" {
		return "", apperr.BadRequest("Email content is required")
	}
	clean := StripHTML(content)
	if utf8.RuneCountInString(clean) < minTLDRLength {
		return tooShortForTLDR, nil
	}
	if subject == "" {
		subject = "No subject"
	}

	prompt := fmt.Sprintf(`Write a short TLDR of the email below. Cover:
- the main points
- anything the reader is asked to do
- dates, deadlines and decisions
- follow-ups

Email Subject: %s

Email Content:
%s

Answer with bullet points that can be scanned in a few seconds.`, subject, clean)

	reply, err := s.llm.Complete(ctx, &out.CompletionRequest{
		Model: s.models.Summary,
		Messages: []out.ChatMessage{
			{Role: "system", Content: tldrSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return "", apperr.ExternalError("groq", err)
	}
	summary := strings.TrimSpace(reply)
	if summary == "" {
		return "", apperr.ExternalError("groq", fmt.Errorf("no content in response"))
	}
	return summary, nil
}

// =============================================================================
// Reply choices
// =============================================================================

const replyChoicesSystemPrompt = `You help users answer email quickly. Read the email and offer 3 or 4 short replies that fit it.

- Work out what kind of email it is (meeting invite, question, request, proposal) and match its formality.
- Cover different intents: accept, decline, stay neutral, ask for more information.
- Each reply is 1 to 3 sentences, specific to the email, with no signature.

Return only this JSON object, without markdown:
{
  "choices": [
    {"id": "choice_1", "content": "reply text", "tone": "positive|negative|neutral|curious", "description": "what this reply does"}
  ]
}`

type replyChoicesResponse struct {
	Choices []struct {
		ID          string `json:"id"`
		Content     string `json:"content"`
		Tone        string `json:"tone"`
		Description string `json:"description"`
	} `json:"choices"`
}

// ReplyChoices proposes canned replies for an email. A model answer that is not
// the expected JSON falls back to choices picked from keywords in the email.
func (s *Service) ReplyChoices(ctx context.Context, subject, content, sender string) ([]domain.ReplyChoice, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if subject == "" || content == "" {
		return nil, apperr.BadRequest("Original subject and content are required")
	}
	if sender == "" {
		sender = "sender"
	}

	reply, err := s.llm.Complete(ctx, &out.CompletionRequest{
		Model: s.models.Compose,
		Messages: []out.ChatMessage{
			{Role: "system", Content: replyChoicesSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Suggest replies to this email.\n\nSubject: %s\nFrom: %s\n\nContent:\n%s", subject, sender, content)},
		},
		Temperature: 0.8,
		MaxTokens:   1500,
	})
	if err != nil {
		return nil, apperr.ExternalError("groq", err)
	}

	choices, err := parseReplyChoices(reply)
	if err != nil {
		logger.WithError(err).Warn("[AIService.ReplyChoices] unparseable model output, using fallback")
		return fallbackReplyChoices(subject, content), nil
	}
	return choices, nil
}

func parseReplyChoices(raw string) ([]domain.ReplyChoice, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	if first, last := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); first >= 0 && last > first {
		cleaned = cleaned[first : last+1]
	}

	var resp replyChoicesResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, err
	}
	if resp.Choices == nil {
		return nil, fmt.Errorf("response has no choices array")
	}

	choices := make([]domain.ReplyChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choice := domain.ReplyChoice{
			ID:          c.ID,
			Content:     strings.TrimSpace(c.Content),
			Tone:        strings.ToLower(c.Tone),
			Description: strings.TrimSpace(c.Description),
		}
		if choice.ID == "" {
			choice.ID = fmt.Sprintf("choice_%d", i+1)
		}
		if choice.Tone == "" {
			choice.Tone = "neutral"
		}
		choices[i] = choice
	}
	return choices, nil
}

func fallbackReplyChoices(subject, content string) []domain.ReplyChoice {
	subject, content = strings.ToLower(subject), strings.ToLower(content)
	switch {
	case strings.Contains(subject, "meeting") || strings.Contains(content, "meeting") || strings.Contains(content, "schedule"):
		return []domain.ReplyChoice{
			{ID: "meeting_yes", Content: "Sounds great! I'll be there. Looking forward to it.", Tone: "positive", Description: "Accept the meeting"},
			{ID: "meeting_no", Content: "Thanks for the invite, but I won't be able to make it. Could we reschedule?", Tone: "negative", Description: "Decline and reschedule"},
			{ID: "meeting_maybe", Content: "I might be able to join depending on my schedule. I'll confirm by tomorrow.", Tone: "neutral", Description: "Tentative response"},
		}
	case strings.Contains(content, "?") || strings.Contains(subject, "question"):
		return []domain.ReplyChoice{
			{ID: "helpful_yes", Content: "Sure, I'd be happy to help! Let me get back to you with the details.", Tone: "positive", Description: "Offer to help"},
			{ID: "need_info", Content: "I'd love to help! Could you provide a bit more detail about what you need?", Tone: "curious", Description: "Request more information"},
			{ID: "redirect", Content: "I'm not the best person for this, but I think [colleague] would know. Let me connect you.", Tone: "neutral", Description: "Redirect to someone else"},
		}
	default:
		return []domain.ReplyChoice{
			{ID: "positive", Content: "Thanks for reaching out! This sounds good to me.", Tone: "positive", Description: "Positive response"},
			{ID: "neutral", Content: "Thanks for the message. I'll review this and get back to you.", Tone: "neutral", Description: "Acknowledge and defer"},
			{ID: "more_info", Content: "Interesting! Could you tell me more about this?", Tone: "curious", Description: "Ask for more details"},
		}
	}
}

// =============================================================================
// Autocomplete
// =============================================================================

const autocompletePrompt = `You complete sentences while the user writes an email. Continue the partial sentence in a natural, professional way and return only the continuation.

User Name: %s
User Email: %s

Partial sentence: "%s"

Completion:`

// Autocomplete continues a partial sentence. Output stops at the first newline.
func (s *Service) Autocomplete(ctx context.Context, sentence string, user domain.AutocompleteUser) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(sentence) == "" {
		return "", apperr.BadRequest("Invalid sentence")
	}

	reply, err := s.llm.Complete(ctx, &out.CompletionRequest{
		Model: s.models.Compose,
		Messages: []out.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(autocompletePrompt, user.Name, user.Email, sentence)},
			{Role: "user", Content: sentence},
		},
		Temperature: 0.7,
		MaxTokens:   32,
		Stop:        []string{autocompleteStop},
	})
	if err != nil {
		return "", apperr.ExternalError("groq", err)
	}
	return strings.TrimSpace(reply), nil
}
