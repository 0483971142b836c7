package llms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kadirpekel/reagent/pkg/httpclient"
)

var (
	// ErrProviderUnavailable means no credentialed provider is configured.
	ErrProviderUnavailable = errors.New("no provider available")
	// ErrProviderCallFailed marks a provider that failed after its retries.
	ErrProviderCallFailed = errors.New("provider call failed")
	// ErrAllProvidersExhausted is fatal for the turn.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// CallError is the final failure of one provider.
type CallError struct {
	Provider   string
	Model      string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s (%s) failed after %d attempt(s): %v", e.Provider, e.Model, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() []error {
	return []error{ErrProviderCallFailed, e.Err}
}

func newCallError(p Provider, attempts int, err error) *CallError {
	ce := &CallError{Provider: p.Name(), Model: p.Model(), Attempts: attempts, Err: err}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		ce.StatusCode = se.StatusCode
	}
	return ce
}

// ExhaustedError lists every provider that was tried.
type ExhaustedError struct {
	Failures []*CallError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%v: %s", ErrAllProvidersExhausted, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrAllProvidersExhausted)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// apiError is an error payload returned with a 2xx status.
type apiError struct {
	provider string
	message  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.provider, e.message)
}
