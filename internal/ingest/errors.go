package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies document-level failures.
type Kind string

const (
	KindDocumentNotFound        Kind = "DocumentNotFound"
	KindUnsupportedDocumentType Kind = "UnsupportedDocumentType"
	KindExtractionFailed        Kind = "ExtractionFailed"
	KindNoExtractableContent    Kind = "NoExtractableContent"
	KindPartialBatchFailure     Kind = "PartialBatchFailure"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrDocumentNotFound        = &Error{Kind: KindDocumentNotFound}
	ErrUnsupportedDocumentType = &Error{Kind: KindUnsupportedDocumentType}
	ErrExtractionFailed        = &Error{Kind: KindExtractionFailed}
	ErrNoExtractableContent    = &Error{Kind: KindNoExtractableContent}
	ErrPartialBatchFailure     = &Error{Kind: KindPartialBatchFailure}
)

// Error is a document-level failure with remediation hints.
type Error struct {
	Kind        Kind
	DocumentID  string
	Message     string
	Suggestions []string
	Cause       error
}

func NewError(kind Kind, documentID, message string, cause error) *Error {
	return &Error{Kind: kind, DocumentID: documentID, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.DocumentID != "" {
		msg = fmt.Sprintf("%s: document %s", msg, e.DocumentID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
