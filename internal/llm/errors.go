package llm

import "errors"

var (
	ErrUnavailable     = errors.New("llm unavailable")
	ErrEgressBlocked   = errors.New("egress blocked")
	ErrModelNotFound   = errors.New("llm model not found")
	ErrEmptyResponse   = errors.New("llm empty response")
	ErrInvalidResponse = errors.New("llm invalid response")
)
