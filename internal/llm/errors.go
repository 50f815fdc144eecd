package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContent is returned when a provider answers without any text
	ErrNoContent = errors.New("provider returned no content")
)

// CredentialError is returned before any network call when a provider
// has no secret to authenticate with.
type CredentialError struct {
	Provider    string
	Remediation string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: missing API key; run `%s` to configure it", e.Provider, e.Remediation)
}

// NewCredentialError builds the error for a provider missing its secret
func NewCredentialError(provider string) error {
	return &CredentialError{
		Provider:    provider,
		Remediation: "assistctl keys set " + provider,
	}
}

// ProviderError is a non-success response from a provider endpoint
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsCredentialError reports whether err is caused by a missing credential
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsProviderError reports whether err is a non-success provider response
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
