package billing

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failed charge
type FailureKind int

const (
	// FailureOther is anything the engine does not know how to handle
	FailureOther FailureKind = iota
	// FailureCustomerNotFound means the provider has no such customer
	FailureCustomerNotFound
	// FailureCurrencyMismatch means the invoice and customer currencies differ
	FailureCurrencyMismatch
	// FailureNetwork is a transient failure talking to the provider
	FailureNetwork
)

func (k FailureKind) String() string {
	switch k {
	case FailureCustomerNotFound:
		return "customer_not_found"
	case FailureCurrencyMismatch:
		return "currency_mismatch"
	case FailureNetwork:
		return "network"
	default:
		return "other"
	}
}

// Retryable reports whether a failure of this kind may succeed on retry
func (k FailureKind) Retryable() bool {
	return k == FailureNetwork
}

var (
	// ErrCustomerNotFound matches every FailureCustomerNotFound ChargeError
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCurrencyMismatch matches every FailureCurrencyMismatch ChargeError
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrNetwork matches every FailureNetwork ChargeError
	ErrNetwork = errors.New("network failure")
	// ErrUnclassified marks charge failures propagated out of a charge task
	ErrUnclassified = errors.New("unclassified charge failure")
)

// ChargeError is a classified failure reported by a PaymentProvider
type ChargeError struct {
	Kind       FailureKind
	InvoiceID  int64
	CustomerID int64
	Err        error
}

func (e *ChargeError) Error() string {
	msg := fmt.Sprintf("charge invoice %d (customer %d): %s", e.InvoiceID, e.CustomerID, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChargeError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the failure kind
func (e *ChargeError) Is(target error) bool {
	switch target {
	case ErrCustomerNotFound:
		return e.Kind == FailureCustomerNotFound
	case ErrCurrencyMismatch:
		return e.Kind == FailureCurrencyMismatch
	case ErrNetwork:
		return e.Kind == FailureNetwork
	}
	return false
}

// NewCustomerNotFoundError reports that the provider does not know the customer
func NewCustomerNotFoundError(invoice *Invoice) *ChargeError {
	return newChargeError(FailureCustomerNotFound, invoice, nil)
}

// NewCurrencyMismatchError reports that the invoice currency does not match the customer's
func NewCurrencyMismatchError(invoice *Invoice) *ChargeError {
	return newChargeError(FailureCurrencyMismatch, invoice, nil)
}

// NewNetworkError reports a transient failure reaching the provider
func NewNetworkError(invoice *Invoice, cause error) *ChargeError {
	return newChargeError(FailureNetwork, invoice, cause)
}

func newChargeError(kind FailureKind, invoice *Invoice, cause error) *ChargeError {
	e := &ChargeError{Kind: kind, Err: cause}
	if invoice != nil {
		e.InvoiceID = invoice.ID
		e.CustomerID = invoice.CustomerID
	}
	return e
}

// KindOf returns the failure kind of err. Errors that are not a
// *ChargeError anywhere in their chain are FailureOther.
func KindOf(err error) FailureKind {
	var chargeErr *ChargeError
	if errors.As(err, &chargeErr) {
		return chargeErr.Kind
	}
	return FailureOther
}
