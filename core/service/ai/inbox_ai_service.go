package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/core/service/mail"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

const (
	maxSummarizeIDs   = 20
	summaryBodyLimit  = 300
	maxSummaryPayload = 100_000
	flagConcurrency   = 5
)

// Models selects the Groq model per task.
type Models struct {
	Generate string
	Summary  string
	Flag     string
	Compose  string // reply choices and autocomplete
}

// Service backs the AI helper routes.
type Service struct {
	llm    out.LLMClient
	mail   *mail.Service
	cache  out.FlagCache
	models Models
}

func NewService(llm out.LLMClient, mailSvc *mail.Service, cache out.FlagCache, models Models) *Service {
	if models.Generate == "" {
		models.Generate = "compound-beta-mini"
	}
	if models.Summary == "" {
		models.Summary = "llama-3.1-8b-instant"
	}
	if models.Flag == "" {
		models.Flag = models.Summary
	}
	if models.Compose == "" {
		models.Compose = "gemma2-9b-it"
	}
	return &Service{llm: llm, mail: mailSvc, cache: cache, models: models}
}

// Configured reports whether a Groq client is wired in.
func (s *Service) Configured() bool {
	return s.llm != nil
}

func (s *Service) ready() error {
	if s.llm == nil {
		return apperr.ConfigError("GROQ_API_KEY is not configured")
	}
	return nil
}

// =============================================================================
// Flagging
// =============================================================================

const flagSystemPrompt = `You are an email triage assistant. Classify the email into exactly one of these labels:
promotional - marketing, newsletters, sales, deals
work - professional or job related, not requiring a personal reply
to_reply - a person is waiting for a reply from the recipient
other - anything else
Respond with the label only.`

// Flag classifies each email, serving repeats from the cache. Output order
// matches input order.
func (s *Service) Flag(ctx context.Context, emails []domain.FlagInput) ([]domain.FlaggedEmail, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	results := make([]domain.FlaggedEmail, len(emails))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flagConcurrency)
	for i, email := range emails {
		i, email := i, email
		g.Go(func() error {
			flagged, err := s.flagOne(gctx, email)
			if err != nil {
				return err
			}
			results[i] = flagged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) flagOne(ctx context.Context, email domain.FlagInput) (domain.FlaggedEmail, error) {
	if s.cache != nil && email.ID != "" {
		cached, ok, err := s.cache.Get(ctx, email.ID)
		if err != nil {
			logger.WithError(err).Warn("[AIService.Flag] cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	reply, err := s.llm.Complete(ctx, &out.CompletionRequest{
		Model: s.models.Flag,
		Messages: []out.ChatMessage{
			{Role: "system", Content: flagSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Sender: %s\nSubject: %s\nSnippet: %s", email.Sender, email.Subject, email.Snippet)},
		},
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return domain.FlaggedEmail{}, apperr.ExternalError("groq", err)
	}

	flagged := domain.FlaggedEmail{FlagInput: email, Flag: domain.ParseFlag(reply)}
	if s.cache != nil && email.ID != "" {
		if err := s.cache.Set(ctx, flagged); err != nil {
			logger.WithError(err).Warn("[AIService.Flag] cache write failed")
		}
	}
	return flagged, nil
}

// =============================================================================
// Summaries
// =============================================================================

const summarySystemPrompt = `You are an email analysis assistant. Your task is to analyze emails and return a JSON object.
IMPORTANT: You must return ONLY a valid JSON object with no additional text or explanation.

The JSON object must have this exact structure:
{
  "individual_summaries": [
    {
      "id": "email_id",
      "summary": "brief summary",
      "type": "email_type"
    }
  ],
  "overall_summary": "comprehensive summary of all emails",
  "immediate_actions": ["list of actions needed"],
  "important_updates": ["list of important updates"],
  "categories": {
    "category_name": ["email_ids in this category"]
  }
}

Do not include any text before or after the JSON object.`

type summaryInput struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Body    string `json:"body"`
}

// Summarize fetches the given emails and asks the model for a structured digest.
func (s *Service) Summarize(ctx context.Context, cred *domain.Credential, ids []string) (map[string]any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.BadRequest("Invalid email IDs")
	}
	if len(ids) > maxSummarizeIDs {
		ids = ids[:maxSummarizeIDs]
	}

	emails, err := s.mail.Contents(ctx, cred, ids)
	if err != nil {
		return nil, err
	}

	inputs := make([]summaryInput, len(emails))
	for i, e := range emails {
		inputs[i] = summaryInput{
			ID:      e.ID,
			Subject: e.Subject,
			From:    e.From,
			Date:    e.Date,
			Body:    Truncate(StripHTML(e.Body), summaryBodyLimit),
		}
	}
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	messages := []out.ChatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: "Analyze these emails and return a JSON object with the specified structure:\n\n" + string(payload)},
	}
	if size := len(messages[0].Content) + len(messages[1].Content); size > maxSummaryPayload {
		return nil, apperr.PayloadTooLarge("Email content too large to process")
	}

	reply, err := s.llm.Complete(ctx, &out.CompletionRequest{
		Model:       s.models.Summary,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   2000,
		JSONMode:    true,
	})
	if err != nil {
		return nil, apperr.ExternalError("groq", err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, apperr.ExternalError("groq", fmt.Errorf("no content in response"))
	}

	var summary map[string]any
	if err := json.Unmarshal([]byte(reply), &summary); err != nil {
		logger.WithError(err).Error("[AIService.Summarize] invalid JSON response from model")
		return nil, apperr.ExternalError("groq", fmt.Errorf("invalid response format from AI: %w", err))
	}
	return summary, nil
}

// =============================================================================
// Generation
// =============================================================================

const (
	subjectSystemPrompt = "You are an AI email assistant. Return ONLY the subject line, nothing else. Do not include any explanations, preambles, or extra text. The subject line should be clear, concise, and professional."
	contentSystemPrompt = "You are an AI email assistant. Generate ONLY the main body of the email. Do NOT include a subject line, greeting, signature, or any explanations. Output only the main email content, ready to be pasted into the email body."
)

// GenerateSubject drafts a subject line for prompt.
func (s *Service) GenerateSubject(ctx context.Context, prompt, userName string) (string, error) {
	return s.generate(ctx, subjectSystemPrompt,
		fmt.Sprintf("My name is %s. Please consider this when generating the subject line.", userName),
		"Generate a subject line for an email about: "+prompt, 100)
}

// GenerateContent drafts an email body for prompt.
func (s *Service) GenerateContent(ctx context.Context, prompt, userName string) (string, error) {
	return s.generate(ctx, contentSystemPrompt,
		fmt.Sprintf("My name is %s. Please consider this when generating the email body.", userName),
		prompt, 1000)
}

func (s *Service) generate(ctx context.Context, system, persona, prompt string, maxTokens int) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.BadRequest("Prompt is required")
	}
	reply, err := s.llm.Complete(ctx, &out.CompletionRequest{
		Model: s.models.Generate,
		Messages: []out.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: persona},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", apperr.ExternalError("groq", err)
	}
	return strings.TrimSpace(reply), nil
}
