package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"autorec/internal/apiclient"
	"autorec/internal/services"
)

const transcriptionsPath = "/audio/transcriptions"

// Audio is one file submitted for transcription.
type Audio struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Transcriber converts audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// OpenAITranscriber calls the OpenAI-compatible transcription endpoint.
type OpenAITranscriber struct {
	client   *apiclient.Client
	model    string
	language string
}

// NewOpenAITranscriber validates lang and returns a transcriber for model.
func NewOpenAITranscriber(client *apiclient.Client, model, lang string) (*OpenAITranscriber, error) {
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcription", "init", "api client required", nil)
	}
	code, err := NormalizeLanguage(lang)
	if err != nil {
		return nil, err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAITranscriber{client: client, model: model, language: code}, nil
}

// Transcribe uploads audio as multipart form data and returns the text.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", services.Wrap(services.ErrValidation, "transcription", "transcribe", "audio is empty", nil)
	}
	body, contentType, err := t.form(audio)
	if err != nil {
		return "", fmt.Errorf("build transcription form: %w", err)
	}
	resp, err := t.client.Do(ctx, apiclient.Request{
		Name:        "transcription",
		Method:      http.MethodPost,
		Path:        transcriptionsPath,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "transcription", "decode", "unexpected transcription response", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func (t *OpenAITranscriber) form(audio Audio) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := audio.Filename
	if filename == "" {
		filename = "recording.wav"
	}
	mimeType := audio.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{{"model", t.model}, {"response_format", "json"}}
	if t.language != "" {
		fields = append(fields, [2]string{"language", t.language})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
