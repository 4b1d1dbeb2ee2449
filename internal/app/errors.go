package app

import (
	"fmt"
	"net/http"
)

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

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// ringRequired is a permission failure: the caller is vetted but does not
// hold the ring right now.
func ringRequired(message string) *DomainError {
	return domainError(http.StatusForbidden, "RING_REQUIRED", message, nil)
}

func permissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", message, nil)
}

func invalidRecipient(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_RECIPIENT", message, nil)
}

func invalidInviteToken() *DomainError {
	return domainError(http.StatusUnauthorized, "INVALID_TOKEN", "Invite token does not match", nil)
}

func inviteExpired() *DomainError {
	return domainError(http.StatusGone, "EXPIRED", "Invite has expired", nil)
}

func alreadyRevoked() *DomainError {
	return domainError(http.StatusConflict, "ALREADY_REVOKED", "Invite was revoked", nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
