package models

// DomainError is a business-rule failure with a stable code the API layer maps to a status.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Error codes.
const (
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"
	CodeInvalid  = "INVALID_INPUT"
	CodeState    = "INVALID_STATE"
)

var (
	ErrNotFound         = NewDomainError(CodeNotFound, "not found")
	ErrDuplicateCase    = NewDomainError(CodeConflict, "collection case already exists for this loan account")
	ErrAlreadyReversed  = NewDomainError(CodeConflict, "payment already reversed or bounced")
	ErrConcurrentUpdate = NewDomainError(CodeConflict, "record was modified by another process")
	ErrDuplicateKey     = NewDomainError(CodeConflict, "record with the same key already exists")
	ErrInvalidInput     = NewDomainError(CodeInvalid, "invalid input")
	ErrInvalidState     = NewDomainError(CodeState, "operation not allowed in current state")
)
