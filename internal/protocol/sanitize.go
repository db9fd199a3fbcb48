package protocol

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// Limits bounds the size of user-supplied text, in runes.
type Limits struct {
	MaxName    int
	MaxMessage int
	MaxExcerpt int
}

// DefaultLimits returns the limits the relay runs with unless configured.
func DefaultLimits() Limits {
	return Limits{
		MaxName:    32,
		MaxMessage: 2000,
		MaxExcerpt: 200,
	}
}

// Sanitizer trims, normalizes, caps and validates inbound payloads.
type Sanitizer struct {
	limits   Limits
	validate *validator.Validate
}

// NewSanitizer creates a Sanitizer for the given limits.
func NewSanitizer(limits Limits) *Sanitizer {
	return &Sanitizer{
		limits:   limits,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Limits returns the limits the sanitizer enforces.
func (s *Sanitizer) Limits() Limits {
	return s.limits
}

// Truncate caps str at max runes.
func Truncate(str string, max int) string {
	if max <= 0 || utf8.RuneCountInString(str) <= max {
		return str
	}
	runes := []rune(str)
	return string(runes[:max])
}

// Name trims and NFC-normalizes a display name and caps its length, so that
// visually identical names compare equal.
func (s *Sanitizer) Name(raw string) string {
	return Truncate(norm.NFC.String(strings.TrimSpace(raw)), s.limits.MaxName)
}

// Text trims str and caps it at max runes.
func (s *Sanitizer) Text(str string, max int) string {
	return Truncate(strings.TrimSpace(str), max)
}

// Validate runs the struct tag rules on v.
func (s *Sanitizer) Validate(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// User sanitizes a payload that carries only a display name.
func (s *Sanitizer) User(in UserPayload) (UserPayload, error) {
	out := UserPayload{User: s.Name(in.User)}
	return out, s.Validate(out)
}

// Rename sanitizes a rename request. Only the new name is capped; From is
// informational.
func (s *Sanitizer) Rename(in NameChange) (NameChange, error) {
	out := NameChange{
		From: strings.TrimSpace(in.From),
		To:   s.Name(in.To),
	}
	return out, s.Validate(out)
}

// Receipt sanitizes a delivery acknowledgment.
func (s *Sanitizer) Receipt(in Receipt) (Receipt, error) {
	out := Receipt{ClientID: strings.TrimSpace(in.ClientID)}
	return out, s.Validate(out)
}

// Message sanitizes an inbound chat message. The client's timestamp is
// discarded and replaced by now. A malformed reply reference is dropped
// without rejecting the message itself.
func (s *Sanitizer) Message(in ChatMessage, now time.Time) (ChatMessage, error) {
	out := ChatMessage{
		User:     s.Name(in.User),
		Message:  s.Text(in.Message, s.limits.MaxMessage),
		Time:     now.UnixMilli(),
		ClientID: strings.TrimSpace(in.ClientID),
	}
	if err := s.Validate(out); err != nil {
		return ChatMessage{}, err
	}

	if in.ReplyTo != nil {
		ref := ReplyRef{
			User:    s.Name(in.ReplyTo.User),
			Message: s.Text(in.ReplyTo.Message, s.limits.MaxExcerpt),
			Time:    in.ReplyTo.Time,
		}
		if s.Validate(ref) == nil {
			out.ReplyTo = &ref
		}
	}
	return out, nil
}
