package handler

const (
	errInternalServer     = "Internal server error"
	errRunNotFound        = "Run not found"
	errEmptyScript        = "Script must not be empty"
	errInvalidMaxAttempts = "max_attempts must be between 1 and 10"
)
