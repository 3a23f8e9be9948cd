package tools

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrFailedUnmarshalInput is returned when the arguments can not be
	// decoded into the tool's argument record.
	ErrFailedUnmarshalInput = errors.New("failed to unmarshal input: check the schema and try again")
	// ErrToolNotFound is returned when no tool is registered under the name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is returned when the arguments do not satisfy
	// the tool's parameter schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func argsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DecodeArgs parses the JSON arguments of a function call into the
// argument record and checks its `validate` tags.
// Unknown fields are rejected.
func DecodeArgs[I any](input string) (*I, error) {
	dec := json.NewDecoder(bytes.NewReader(CleanJSON([]byte(input))))
	dec.DisallowUnknownFields()

	var args I
	if err := dec.Decode(&args); err != nil {
		return nil, errors.WithStack(ErrFailedUnmarshalInput)
	}
	if err := argsValidator().Struct(&args); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid arguments"), ErrInvalidArguments)
	}
	return &args, nil
}

// CleanJSON returns JSON by trimming prefixes and postfixes,
// models may wrap the arguments like `Here you go: {json}`.
func CleanJSON(bs []byte) []byte {
	start := bytes.IndexAny(bs, "{[")
	if start == -1 {
		return bs
	}
	bs = bs[start:]
	end := bytes.LastIndexAny(bs, "}]")
	if end == -1 {
		return bs
	}
	return bs[:end+1]
}
