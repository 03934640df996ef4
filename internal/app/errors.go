package app

import "fmt"

// DomainError is an error that already knows its HTTP shape. Service methods
// return one for conditions the API contract names (UNKNOWN_PARAM,
// WORKBOOK_NOT_FOUND, INVALID_MATRIX, ...); mapError passes it through to the
// JSON envelope unchanged.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
