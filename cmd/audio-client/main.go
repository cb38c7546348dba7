// main package for audio-client, a command line tool that asks the emotion-tts
// service for the audio of one journal record.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/book-expert/emotion-tts/internal/config"
	"github.com/book-expert/emotion-tts/internal/objectstore"
	"github.com/book-expert/emotion-tts/internal/tts"
	"github.com/book-expert/emotion-tts/internal/worker"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag names.
const (
	flagUser     = "user"
	flagRecord   = "record"
	flagOriginal = "original"
	flagVoice    = "voice"
	flagOutput   = "output"
	flagTimeout  = "timeout"
	flagHealth   = "health"
)

// Flag descriptions.
const (
	flagUserDesc     = "Reference of the requesting user"
	flagRecordDesc   = "Reference of the journal record"
	flagOriginalDesc = "Return the user's uploaded audio instead of synthesized speech"
	flagVoiceDesc    = "Voice identity overriding the configured default"
	flagOutputDesc   = "Download synthesized audio to this file"
	flagTimeoutDesc  = "How long to wait for the reply"
	flagHealthDesc   = "Check the speech provider health and exit"
)

// Error and log messages.
const (
	errMissingUser      = "--user is required"
	errMissingRecord    = "--record is required"
	errOutputNeedsSynth = "--output cannot be combined with --original"
	logClientReady      = "Audio client connected to %s"
	logRequestSent      = "Requested audio for record %s (workflow %s)"
	msgServiceHealthy   = "Speech provider is healthy"
)

const (
	defaultTimeout     = 60 * time.Second
	healthCheckTimeout = 10 * time.Second
	logFileName        = "audio-client.log"
)

// errRequestFailed marks a reply that carried an error payload.
var errRequestFailed = errors.New("audio request failed")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	user     string
	record   string
	voice    string
	output   string
	original bool
	health   bool
	timeout  time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, clientLog, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = clientLog.Close() }()

	if flags.health {
		return handleHealthCheck(cfg, clientLog, stdout)
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("audio-client"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	clientLog.Info(logClientReady, cfg.NATS.URL)

	reply, err := requestAudio(natsConnection, cfg.NATS.RequestSubject, flags, clientLog)
	if err != nil {
		return err
	}

	err = printReply(stdout, reply)
	if err != nil {
		return err
	}

	if reply.Error != nil {
		return fmt.Errorf("%w: %s", errRequestFailed, reply.Error.Code)
	}

	if flags.output != "" {
		return downloadAudio(natsConnection, cfg, reply.Audio.AudioURL, flags.output)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("audio-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.user, flagUser, "", flagUserDesc)
	flagSet.StringVar(&flags.record, flagRecord, "", flagRecordDesc)
	flagSet.BoolVar(&flags.original, flagOriginal, false, flagOriginalDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags checks required and conflicting arguments.
func validateFlags(flags appFlags) error {
	if flags.user == "" {
		return errors.New(errMissingUser)
	}

	if flags.record == "" {
		return errors.New(errMissingRecord)
	}

	if flags.original && flags.output != "" {
		return errors.New(errOutputNeedsSynth)
	}

	return nil
}

// setup loads config and initializes the logger.
func setup() (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		_ = bootstrapLog.Close()

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, bootstrapLog, nil
}

// newRequestEvent builds the request published for the parsed flags.
func newRequestEvent(flags appFlags) *worker.AudioRequestedEvent {
	return &worker.AudioRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: uuid.NewString(),
			UserID:     flags.user,
			TenantID:   "",
			EventID:    uuid.NewString(),
		},
		RecordRef:           flags.record,
		WantsOriginalUpload: flags.original,
		VoiceIdentity:       flags.voice,
	}
}

func requestAudio(
	natsConnection *nats.Conn,
	subject string,
	flags appFlags,
	clientLog *logger.Logger,
) (*worker.AudioResolvedEvent, error) {
	event := newRequestEvent(flags)

	eventData, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	clientLog.Info(logRequestSent, flags.record, event.Header.WorkflowID)

	replyMsg, err := natsConnection.Request(subject, eventData, flags.timeout)
	if err != nil {
		return nil, fmt.Errorf("no reply on %s: %w", subject, err)
	}

	var reply worker.AudioResolvedEvent

	err = json.Unmarshal(replyMsg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	return &reply, nil
}

// printReply writes the reply as indented JSON.
func printReply(stdout io.Writer, reply *worker.AudioResolvedEvent) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(reply)
	if err != nil {
		return fmt.Errorf("failed to print reply: %w", err)
	}

	return nil
}

func downloadAudio(natsConnection *nats.Conn, cfg *config.Config, audioURL, outputPath string) error {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket, cfg.Blob.PublicBaseURL)
	if err != nil {
		return err
	}

	key, ok := store.KeyFromURL(audioURL)
	if !ok {
		return fmt.Errorf("audio URL %s is not in bucket %s", audioURL, cfg.NATS.AudioBucket)
	}

	data, err := store.Download(context.Background(), key)
	if err != nil {
		return err
	}

	err = os.WriteFile(outputPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	return nil
}

// handleHealthCheck performs a provider health check and prints the result.
func handleHealthCheck(cfg *config.Config, clientLog *logger.Logger, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	client := tts.NewHTTPClient(tts.ClientConfig{
		BaseURL:      cfg.Provider.Endpoint,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Timeout:      healthCheckTimeout,
	})

	err := client.HealthCheck(ctx)
	if err != nil {
		clientLog.Error("Health check failed: %v", err)

		return err
	}

	_, err = fmt.Fprintln(stdout, msgServiceHealthy)

	return err
}
