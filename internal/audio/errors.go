package audio

import "errors"

// Client errors.
var (
	// ErrValidation indicates a missing or malformed request field.
	ErrValidation = errors.New("invalid audio request")
	// ErrNotFound indicates the user or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermission indicates the record belongs to another user.
	ErrPermission = errors.New("record does not belong to user")
	// ErrNoUploadedAudio indicates the record has no user-recorded audio.
	ErrNoUploadedAudio = errors.New("record has no uploaded audio")
)

// Server errors.
var (
	// ErrSynthesis indicates the speech provider failed or timed out.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrStorage indicates a blob upload or repository failure.
	ErrStorage = errors.New("storage failed")
	// ErrConfiguration indicates the service cannot build a request from its settings.
	ErrConfiguration = errors.New("configuration error")
)

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, ErrNoUploadedAudio)
}
