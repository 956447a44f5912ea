package apitypes

//go:generate go run golang.org/x/tools/cmd/stringer -type=APIErrorCode -output=apierrors_gen.go

type APIErrorCode int

const (
	// Common
	ErrInvalidRequest            APIErrorCode = 4400
	ErrUnauthorizedAccess        APIErrorCode = 4401
	ErrSystemTemporarilyDisabled APIErrorCode = 4503

	// Status specific
	ErrUnknownProvider      APIErrorCode = 4041
	ErrStatusNotYetComputed APIErrorCode = 4042

	ErrOutcomeStoreNotConfigured APIErrorCode = 4050
	ErrOutcomeStoreUnavailable   APIErrorCode = 4051
)
