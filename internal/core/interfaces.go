// Package core defines the shared types and collaborator interfaces for the
// emotion-tts service.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/emotion-tts/internal/emotion"
)

// ErrNotFound is returned by repositories when the requested item does not exist.
var ErrNotFound = errors.New("not found")

// CacheEntry is one synthesized audio asset keyed by its derived content key.
// Only LastAccessedAt ever changes after creation.
type CacheEntry struct {
	Key            string    `json:"key"`
	OriginalText   string    `json:"originalText"`
	VoiceIdentity  string    `json:"voiceIdentity"`
	ToneSnapshot   string    `json:"toneSnapshot"`
	AudioURL       string    `json:"audioUrl"`
	FileName       string    `json:"fileName"`
	FileSizeBytes  int64     `json:"fileSizeBytes"`
	MimeType       string    `json:"mimeType"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// CacheStore persists CacheEntry values by key.
//
// Save is atomic per key: when the key already exists the stored entry is kept
// and returned, so concurrent writers converge on one entry. Lookup returns
// ErrNotFound on a miss and does not update the access time; callers Touch
// separately and may ignore Touch failures.
type CacheStore interface {
	Lookup(ctx context.Context, key string) (*CacheEntry, error)
	Save(ctx context.Context, entry CacheEntry) (*CacheEntry, error)
	Touch(ctx context.Context, key string, accessedAt time.Time) error
	FindStaleSince(ctx context.Context, threshold time.Time) ([]CacheEntry, error)
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
	Count(ctx context.Context) (int, error)
}

// BlobObject describes the bytes handed to a BlobStore.
type BlobObject struct {
	Data      []byte
	OwnerRef  string
	Extension string
	MimeType  string
}

// StoredBlob is the durable location of an uploaded object.
type StoredBlob struct {
	URL      string
	FileName string
}

// BlobStore uploads raw bytes and returns a durable, retrievable location.
type BlobStore interface {
	Store(ctx context.Context, object BlobObject) (StoredBlob, error)
}

// SpeechRequest is the input to a speech synthesis provider.
type SpeechRequest struct {
	Text          string
	VoiceIdentity string
	Tone          emotion.VoiceTone
	Format        string
}

// SpeechSynthesizer converts text to audio with the given voice and tone.
// Implementations classify failures with the tts package error values.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// UploadedFile is the metadata of audio the user recorded themselves.
type UploadedFile struct {
	Path            string `json:"path"`
	Name            string `json:"name"`
	SizeBytes       int64  `json:"sizeBytes"`
	MimeType        string `json:"mimeType"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Record is the read model of one journal entry.
type Record struct {
	ID               string             `json:"id"`
	OwnerRef         string             `json:"ownerRef"`
	Content          string             `json:"content"`
	Upload           *UploadedFile      `json:"upload,omitempty"`
	ConfirmedEmotion *emotion.Selection `json:"confirmedEmotion,omitempty"`
	ScoredEmotions   []emotion.Score    `json:"scoredEmotions,omitempty"`
}

// RecordRepository looks up users and journal records. FindRecord returns
// ErrNotFound when the record does not exist.
type RecordRepository interface {
	UserExists(ctx context.Context, userRef string) (bool, error)
	FindRecord(ctx context.Context, recordRef string) (*Record, error)
}

// AudioDescriptor is the response returned to the rest of the system.
type AudioDescriptor struct {
	AudioURL         string `json:"audioUrl"`
	FileName         string `json:"fileName"`
	FileSizeBytes    int64  `json:"fileSizeBytes"`
	MimeType         string `json:"mimeType"`
	IsFromUserUpload bool   `json:"isFromUserUpload"`
	VoiceIdentity    string `json:"voiceIdentity,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
}
