package country

import "fmt"

// NotFoundError reports that no rule document exists for a slug. The
// registry only returns it when the default country itself is missing.
type NotFoundError struct {
	Slug string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("country config not found: %s", e.Slug)
}

// ParseError reports a rule document that exists but cannot be decoded or
// fails validation. It is never resolved by falling back to the default.
type ParseError struct {
	Slug string
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("country config %s: parse %s: %v", e.Slug, e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type fieldError struct {
	Field string
	Err   error
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *fieldError) Unwrap() error {
	return e.Err
}
