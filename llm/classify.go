// ABOUTME: Maps the SDK's provider-specific error hierarchy onto core.ErrorType.
// ABOUTME: Lets runner.GraphNodeRunner's retry policy see PROVIDER_ERROR vs VALIDATION_ERROR instead of one flat SYSTEM_ERROR.
package llm

import (
	"errors"

	"github.com/2389-research/graphrun/core"
)

// ClassifyError maps an error returned from Client.Complete to the closed
// core.ErrorType taxonomy so runner.GraphNodeRunner's retry policy can tell a
// transient rate limit from a bad API key instead of collapsing both to
// SYSTEM_ERROR. Unrecognized errors fall back to ErrorProvider, since
// anything reaching this point already passed through a provider adapter.
func ClassifyError(err error) core.ErrorType {
	if err == nil {
		return ""
	}

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return core.ErrorPermission
	}
	var accessErr *AccessDeniedError
	if errors.As(err, &accessErr) {
		return core.ErrorPermission
	}
	var timeoutErr *RequestTimeoutError
	if errors.As(err, &timeoutErr) {
		return core.ErrorTimeout
	}
	var invalidErr *InvalidRequestError
	if errors.As(err, &invalidErr) {
		return core.ErrorValidation
	}
	var contextErr *ContextLengthError
	if errors.As(err, &contextErr) {
		return core.ErrorValidation
	}
	var toolErr *InvalidToolCallError
	if errors.As(err, &toolErr) {
		return core.ErrorTool
	}
	var noObjErr *NoObjectGeneratedError
	if errors.As(err, &noObjErr) {
		return core.ErrorTool
	}
	var configErr *ConfigurationError
	if errors.As(err, &configErr) {
		return core.ErrorValidation
	}
	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		return core.ErrorPermission
	}
	var filterErr *ContentFilterError
	if errors.As(err, &filterErr) {
		return core.ErrorValidation
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return core.ErrorValidation
	}

	// RateLimitError, ServerError, NetworkError, StreamError, and any other
	// SDKError reaching this far are all provider-side and governed by their
	// own IsRetryable(); core.ErrorProvider.Retryable() is true, matching
	// ErrorTimeout/ErrorTool as the retryable half of the taxonomy.
	return core.ErrorProvider
}

// ToStepError wraps err as a *core.StepError classified via ClassifyError,
// preserving an already-classified StepError unchanged.
func ToStepError(err error) error {
	if err == nil {
		return nil
	}
	var se *core.StepError
	if errors.As(err, &se) {
		return se
	}
	return core.NewStepError(ClassifyError(err), "%s", err.Error())
}
