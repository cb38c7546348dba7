package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/emotion-tts/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseFlags verifies that command-line flags are parsed correctly.
func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want appFlags
	}{
		{
			name: "synthesized request",
			args: []string{"--user", "user-1", "--record", "record-9", "--voice", "nara", "--output", "out.mp3"},
			want: appFlags{user: "user-1", record: "record-9", voice: "nara", output: "out.mp3", timeout: defaultTimeout},
		},
		{
			name: "original upload with timeout",
			args: []string{"--user", "u", "--record", "r", "--original", "--timeout", "5s"},
			want: appFlags{user: "u", record: "r", original: true, timeout: 5 * time.Second},
		},
		{
			name: "health only",
			args: []string{"--health"},
			want: appFlags{health: true, timeout: defaultTimeout},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags, err := parseFlags(testCase.args)
			require.NoError(t, err)
			assert.Equal(t, testCase.want, flags)
		})
	}
}

func TestParseFlags_Unknown(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"--chunks", "file.json"})
	require.Error(t, err)
}

// TestValidateFlags verifies the required and conflicting arguments.
func TestValidateFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		flags         appFlags
		expectedError string
	}{
		{name: "valid", flags: appFlags{user: "u", record: "r"}},
		{name: "missing user", flags: appFlags{record: "r"}, expectedError: errMissingUser},
		{name: "missing record", flags: appFlags{user: "u"}, expectedError: errMissingRecord},
		{
			name:          "output with original",
			flags:         appFlags{user: "u", record: "r", original: true, output: "x.mp3"},
			expectedError: errOutputNeedsSynth,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(testCase.flags)
			if testCase.expectedError == "" {
				require.NoError(t, err)

				return
			}

			require.EqualError(t, err, testCase.expectedError)
		})
	}
}

func TestNewRequestEvent(t *testing.T) {
	t.Parallel()

	event := newRequestEvent(appFlags{user: "user-1", record: "record-9", original: true, voice: "nara"})

	assert.Equal(t, "user-1", event.Header.UserID)
	assert.NotEmpty(t, event.Header.WorkflowID)
	assert.NotEmpty(t, event.Header.EventID)
	assert.Equal(t, "record-9", event.RecordRef)
	assert.True(t, event.WantsOriginalUpload)
	assert.Equal(t, "nara", event.VoiceIdentity)
}

func TestPrintReply(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	reply := &worker.AudioResolvedEvent{Audio: &core.AudioDescriptor{
		AudioURL: "https://cdn.test/a.mp3",
		FileName: "a.mp3",
		MimeType: "audio/mpeg",
	}}
	require.NoError(t, printReply(&out, reply))

	var decoded worker.AudioResolvedEvent

	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, reply.Audio, decoded.Audio)
	assert.Nil(t, decoded.Error)
}
