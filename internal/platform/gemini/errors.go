package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the analyzer is constructed with missing settings.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyImage is returned when there are no image bytes to analyse.
	ErrEmptyImage = errors.New("image data cannot be empty")

	// ErrContentBlocked is returned when the model refuses the input on safety grounds.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse is returned when the model answer cannot be parsed.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrTransientFailure is returned once in-call retries are exhausted.
	ErrTransientFailure = errors.New("transient gemini failure")
)
