package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	JobTimeout = 5 * time.Minute
)

var (
	ErrUnknownKind   = errors.New("unknown job type")
	ErrInvalidInput  = errors.New("invalid job input")
	ErrInvalidOutput = errors.New("invalid job output")
)

type definition struct {
	newInput  func() any
	newOutput func() any
	timeout   time.Duration
}

// Registry knows every job kind, how to validate its payloads and how long
// a single execution may take.
type Registry struct {
	definitions map[Kind]definition
	validate    *validator.Validate
}

func NewRegistry() *Registry {
	r := &Registry{
		definitions: make(map[Kind]definition),
		validate:    validator.New(),
	}

	r.register(KindBuildCvSectionRubric, func() any { return &BuildRubricInput{} }, func() any { return &SectionRubric{} })
	r.register(KindReviewCvAgainstJd, func() any { return &ReviewInput{} }, func() any { return &ReviewOutput{} })

	return r
}

func (r *Registry) register(kind Kind, newInput, newOutput func() any) {
	r.definitions[kind] = definition{
		newInput:  newInput,
		newOutput: newOutput,
		timeout:   JobTimeout,
	}
}

func (r *Registry) Known(kind Kind) bool {
	_, found := r.definitions[kind]
	return found
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.definitions))
	for k := range r.definitions {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// SetTimeout overrides the execution timeout of a kind. Non-positive values are ignored.
func (r *Registry) SetTimeout(kind Kind, timeout time.Duration) {
	def, found := r.definitions[kind]
	if !found || timeout <= 0 {
		return
	}
	def.timeout = timeout
	r.definitions[kind] = def
}

func (r *Registry) Timeout(kind Kind) time.Duration {
	if def, found := r.definitions[kind]; found {
		return def.timeout
	}
	return JobTimeout
}

func (r *Registry) ValidateInput(kind Kind, raw []byte) error {
	def, found := r.definitions[kind]
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := r.decode(raw, def.newInput()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (r *Registry) ValidateOutput(kind Kind, raw []byte) error {
	def, found := r.definitions[kind]
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := r.decode(raw, def.newOutput()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

func (r *Registry) decode(raw []byte, target any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("payload is empty")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return err
	}
	return r.validate.Struct(target)
}

// Decode unmarshals a stored payload into its typed form.
func Decode[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return v, nil
}
