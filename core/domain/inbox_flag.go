package domain

import "strings"

// Flag is the AI triage label attached to an inbox email.
type Flag string

const (
	FlagPromotional Flag = "promotional"
	FlagWork        Flag = "work"
	FlagToReply     Flag = "to_reply"
	FlagOther       Flag = "other"
)

// ParseFlag maps free-form model output onto a known flag, defaulting to other.
func ParseFlag(s string) Flag {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'.`)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")

	switch {
	case strings.HasPrefix(s, "promo"):
		return FlagPromotional
	case s == "work":
		return FlagWork
	case s == "to_reply", s == "toreply", s == "reply":
		return FlagToReply
	default:
		return FlagOther
	}
}

// FlagInput is the minimal email view sent for classification.
type FlagInput struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
	Sender  string `json:"sender"`
}

type FlaggedEmail struct {
	FlagInput
	Flag Flag `json:"flag"`
}

// ReplyChoice is one canned answer offered under an open email.
type ReplyChoice struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Tone        string `json:"tone"`
	Description string `json:"description"`
}

// AutocompleteUser personalises sentence completion.
type AutocompleteUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
