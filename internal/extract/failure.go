package extract

import (
	"errors"
	"fmt"
	"strings"
)

type FailureKind string

const (
	KindMissingField       FailureKind = "missing_field"
	KindServiceUnavailable FailureKind = "service_unavailable"
	KindParseFailure       FailureKind = "parse_failure"
)

// Failure reports why a message could not be turned into booking criteria.
type Failure struct {
	Kind          FailureKind
	MissingFields []string
	Detail        string
	Err           error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindMissingField:
		return fmt.Sprintf("extract: missing fields: %s", strings.Join(f.MissingFields, ", "))
	case KindServiceUnavailable:
		return fmt.Sprintf("extract: service unavailable: %s", f.Detail)
	default:
		return fmt.Sprintf("extract: parse failure: %s", f.Detail)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

func missingFieldFailure(fields ...string) *Failure {
	return &Failure{Kind: KindMissingField, MissingFields: fields}
}

// AsFailure unwraps err into a *Failure when one is present.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
