package provisioning

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress is returned when an access identifier is not an IP literal.
	ErrInvalidAddress = errors.New("invalid access identifier")
	// ErrEmptyApplicationID is returned when the external application id is blank.
	ErrEmptyApplicationID = errors.New("empty external application id")
	// ErrUnsupportedProfileLabel is wrapped by every *LabelError.
	ErrUnsupportedProfileLabel = errors.New("unsupported qos profile label")
	// ErrEmptyProfileMap is returned when a record carries no profile mappings.
	ErrEmptyProfileMap = errors.New("empty qos profile map")
	// ErrEmptyQosReference is returned when a label maps to an empty backend reference.
	ErrEmptyQosReference = errors.New("empty backend qos reference")
	// ErrNotProvisioned is returned by lookups for an address with no record.
	ErrNotProvisioned = errors.New("access identifier not provisioned")
	// ErrStoreUnavailable marks transient backing-store failures and closed handles.
	ErrStoreUnavailable = errors.New("provisioning store unavailable")
	// ErrMalformedRecord is returned for input that cannot be read as a record at all.
	ErrMalformedRecord = errors.New("malformed provisioning record")
)

// LabelReason tells why a profile label was refused.
type LabelReason int

const (
	// Unknown means the label is outside the supported qos enumeration.
	Unknown LabelReason = iota
	// NotSubscribed means the label is supported but absent from the record's map.
	NotSubscribed
)

// LabelError reports a refused profile label.
type LabelError struct {
	Label  string
	Reason LabelReason
}

func (e *LabelError) Error() string {
	if e.Reason == NotSubscribed {
		return fmt.Sprintf("qos profile label %q not provisioned for this access identifier", e.Label)
	}
	return fmt.Sprintf("unsupported qos profile label %q", e.Label)
}

func (e *LabelError) Unwrap() error { return ErrUnsupportedProfileLabel }

// ErrorKind is a stable classification of registry errors, used in batch
// reports and logs.
type ErrorKind string

const (
	KindNone                    ErrorKind = ""
	KindInvalidAddress          ErrorKind = "invalid_address"
	KindEmptyApplicationID      ErrorKind = "empty_application_id"
	KindUnsupportedProfileLabel ErrorKind = "unsupported_profile_label"
	KindEmptyProfileMap         ErrorKind = "empty_profile_map"
	KindEmptyQosReference       ErrorKind = "empty_qos_reference"
	KindStoreUnavailable        ErrorKind = "store_unavailable"
	KindNotProvisioned          ErrorKind = "not_provisioned"
	KindMalformedRecord         ErrorKind = "malformed_record"
	KindCanceled                ErrorKind = "canceled"
	KindInternal                ErrorKind = "internal"
)

// Kind classifies err. A nil error has KindNone.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrEmptyApplicationID):
		return KindEmptyApplicationID
	case errors.Is(err, ErrUnsupportedProfileLabel):
		return KindUnsupportedProfileLabel
	case errors.Is(err, ErrEmptyProfileMap):
		return KindEmptyProfileMap
	case errors.Is(err, ErrEmptyQosReference):
		return KindEmptyQosReference
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrNotProvisioned):
		return KindNotProvisioned
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformedRecord
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// CAMARA error codes returned to exposure-API clients.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

// ErrorCode maps err to the CAMARA error code an exposure layer should emit.
// An unprovisioned application server is reported as INVALID_INPUT, because
// the client supplied an asId the operator never provisioned.
func ErrorCode(err error) string {
	switch Kind(err) {
	case KindInvalidAddress, KindEmptyApplicationID, KindUnsupportedProfileLabel,
		KindEmptyProfileMap, KindEmptyQosReference, KindNotProvisioned, KindMalformedRecord:
		return CodeInvalidInput
	case KindStoreUnavailable, KindCanceled:
		return CodeServiceUnavailable
	case KindNone:
		return ""
	default:
		return CodeInternal
	}
}
