package worker

import (
	"errors"

	"github.com/book-expert/emotion-tts/internal/audio"
	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/emotion-tts/internal/tts"
	"github.com/book-expert/events"
)

// Error codes carried in AudioResolvedEvent.Error.
const (
	CodeValidation       = "validation"
	CodeNotFound         = "not_found"
	CodePermissionDenied = "permission_denied"
	CodeNoUploadedAudio  = "no_uploaded_audio"
	CodeSynthesisFailed  = "synthesis_failed"
	CodeStorageFailed    = "storage_failed"
	CodeConfiguration    = "configuration"
)

// AudioRequestedEvent asks for the audio of one journal record.
// Header.UserID carries the requesting user's reference.
type AudioRequestedEvent struct {
	Header              events.EventHeader `json:"header"`
	RecordRef           string             `json:"recordRef"`
	WantsOriginalUpload bool               `json:"wantsOriginalUpload"`
	VoiceIdentity       string             `json:"voiceIdentity,omitempty"`
}

// ErrorPayload describes why a request could not be served.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// AudioResolvedEvent is the reply to an AudioRequestedEvent. Exactly one of
// Audio and Error is set.
type AudioResolvedEvent struct {
	Header events.EventHeader    `json:"header"`
	Audio  *core.AudioDescriptor `json:"audio,omitempty"`
	Error  *ErrorPayload         `json:"error,omitempty"`
}

// errorPayload maps an orchestrator error to its wire form.
func errorPayload(err error) *ErrorPayload {
	payload := &ErrorPayload{Message: err.Error()}

	switch {
	case errors.Is(err, audio.ErrValidation):
		payload.Code = CodeValidation
	case errors.Is(err, audio.ErrPermission):
		payload.Code = CodePermissionDenied
	case errors.Is(err, audio.ErrNotFound):
		payload.Code = CodeNotFound
	case errors.Is(err, audio.ErrNoUploadedAudio):
		payload.Code = CodeNoUploadedAudio
	case errors.Is(err, audio.ErrSynthesis):
		payload.Code = CodeSynthesisFailed
		payload.Retryable = tts.Retryable(err)
	case errors.Is(err, audio.ErrStorage):
		payload.Code = CodeStorageFailed
		payload.Retryable = true
	default:
		payload.Code = CodeConfiguration
	}

	return payload
}
