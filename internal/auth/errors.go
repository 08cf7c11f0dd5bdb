package auth

import "errors"

var (
	// ErrInvalidToken covers every authentication failure. The precise cause is logged, never returned.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrPermissionDenied is an authorization failure and is safe to expose.
	ErrPermissionDenied = errors.New("auth: permission denied")
	// ErrInvalidCredentials is returned by login for any credential mismatch.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrDuplicateSlug     = errors.New("auth: duplicate role slug")
	ErrAlreadyAssigned   = errors.New("auth: role already assigned")
	ErrNotAssigned       = errors.New("auth: role not assigned")
	ErrInvalidPermission = errors.New("auth: invalid permission")
	ErrSystemRole        = errors.New("auth: system role is protected")
	ErrNotFound          = errors.New("auth: not found")
	ErrInvalidInput      = errors.New("auth: invalid input")
)
