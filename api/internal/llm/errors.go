package llm

import "errors"

var (
	// ErrConfiguration means a credential required by the selected backend is not set.
	ErrConfiguration = errors.New("llm: configuration error")
	// ErrInvalidArgument means the request cannot be served as given,
	// e.g. a local tag without a generator.
	ErrInvalidArgument = errors.New("llm: invalid argument")
	// ErrUnrecognizedOutput means a local generator returned a shape we cannot read text from.
	ErrUnrecognizedOutput = errors.New("llm: unrecognized output format")
	// ErrUnknownModel means the model tag does not name any backend.
	ErrUnknownModel = errors.New("llm: unknown model")
	// ErrEmptyCompletion means a hosted backend answered without any choice.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)
