package bugout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a consumer what to do with a failed message.
type ErrorClass int

const (
	// ErrorTransient errors are left to the transport to redeliver.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors are fatal to the one message; never retried.
	ErrorInvalid
	// ErrorDuplicate errors are recovered locally by replaying a prior outcome.
	ErrorDuplicate
	// ErrorFatal errors stop the process before it routes any traffic.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorDuplicate:
		return "duplicate"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownTag   = errors.New("unknown message tag")
	ErrMissingField = errors.New("missing required field")
	ErrFieldType    = errors.New("field has wrong type")
	ErrForbidden    = errors.New("field not permitted")
)

// SchemaError reports a structurally invalid payload.
type SchemaError struct {
	Tag   string
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema error")
	if e.Tag != "" {
		b.WriteString(" in ")
		b.WriteString(e.Tag)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IdentityError reports a session id that is unknown or not authoritative.
type IdentityError struct {
	SessionId string
	Reason    string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity error for session %q: %s", e.SessionId, e.Reason)
}

// DuplicateRequestError reports a request id that was already processed.
// Prior holds the outcome recorded for the first processing.
type DuplicateRequestError struct {
	Key   string
	Prior any
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate request %q", e.Key)
}

// TopicCollision reports two kinds bound to the same channel name.
type TopicCollision struct {
	Topic  string
	First  string
	Second string
}

func (e *TopicCollision) Error() string {
	return fmt.Sprintf("topic %q bound to both %s and %s", e.Topic, e.First, e.Second)
}

// Classify maps an error onto the handling class a consumer should apply.
func Classify(err error) ErrorClass {
	var schemaErr *SchemaError
	var identityErr *IdentityError
	var dupErr *DuplicateRequestError
	var collision *TopicCollision

	switch {
	case errors.As(err, &schemaErr), errors.As(err, &identityErr):
		return ErrorInvalid
	case errors.As(err, &dupErr):
		return ErrorDuplicate
	case errors.As(err, &collision):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}
