package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const (
	entryColumns = "id, recorded_at, duration_ms, transcription, summary, mic_transcription, counterpart_transcription, is_separate, audio_path, error_message"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 25 * time.Millisecond
	busyRetryMaxBackoff     = 400 * time.Millisecond
)

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id            string
		recordedRaw   string
		durationMs    int64
		transcription sql.NullString
		summary       sql.NullString
		micText       sql.NullString
		counterpart   sql.NullString
		isSeparate    int64
		audioPath     sql.NullString
		errorMessage  sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&recordedRaw,
		&durationMs,
		&transcription,
		&summary,
		&micText,
		&counterpart,
		&isSeparate,
		&audioPath,
		&errorMessage,
	); err != nil {
		return nil, err
	}
	entry := &Entry{
		ID:                       id,
		DurationMs:               durationMs,
		Transcription:            transcription.String,
		Summary:                  summary.String,
		MicTranscription:         micText.String,
		CounterpartTranscription: counterpart.String,
		IsSeparateRecording:      isSeparate != 0,
		AudioPath:                audioPath.String,
		ErrorMessage:             errorMessage.String,
	}
	if recorded, err := parseTimeString(recordedRaw); err == nil {
		entry.Date = recorded
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
