package flows

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidAudio = errors.New("invalid audio input")

// Audio is a decoded clip ready to be sent to the model.
type Audio struct {
	MIMEType string
	Data     []byte
}

// ParseDataURI decodes "data:<mime>;base64,<payload>".
func ParseDataURI(uri string) (Audio, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Audio{}, fmt.Errorf("%w: not a data uri", ErrInvalidAudio)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Audio{}, fmt.Errorf("%w: missing payload", ErrInvalidAudio)
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return Audio{}, fmt.Errorf("%w: payload must be base64", ErrInvalidAudio)
	}
	if strings.TrimSpace(mediaType) == "" {
		return Audio{}, fmt.Errorf("%w: missing mime type", ErrInvalidAudio)
	}
	// parameters such as "codecs=opus" are dropped
	mimeType, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("%w: empty payload", ErrInvalidAudio)
	}
	return Audio{MIMEType: mimeType, Data: data}, nil
}

// Loader turns the audioDataUri of a flow request into Audio. Remote
// http(s) URLs are downloaded, capped at MaxBytes.
type Loader struct {
	Client   *http.Client
	MaxBytes int64
}

func NewLoader(maxBytes int64) *Loader {
	return &Loader{
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: maxBytes,
	}
}

func (l *Loader) Load(ctx context.Context, uri string) (Audio, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "data:"):
		a, err := ParseDataURI(uri)
		if err != nil {
			return Audio{}, err
		}
		if l.MaxBytes > 0 && int64(len(a.Data)) > l.MaxBytes {
			return Audio{}, fmt.Errorf("%w: audio exceeds %d bytes", ErrInvalidAudio, l.MaxBytes)
		}
		return a, nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return l.fetch(ctx, uri)
	case uri == "":
		return Audio{}, fmt.Errorf("%w: empty", ErrInvalidAudio)
	}
	return Audio{}, fmt.Errorf("%w: unsupported scheme", ErrInvalidAudio)
}

func (l *Loader) fetch(ctx context.Context, url string) (Audio, error) {
	const op = "flows.Loader.fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Audio{}, fmt.Errorf("%s: %w", op, err)
	}
	res, err := l.Client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Audio{}, fmt.Errorf("%w: download returned %d", ErrInvalidAudio, res.StatusCode)
	}

	var body io.Reader = res.Body
	if l.MaxBytes > 0 {
		body = io.LimitReader(res.Body, l.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Audio{}, fmt.Errorf("%s: %w", op, err)
	}
	if l.MaxBytes > 0 && int64(len(data)) > l.MaxBytes {
		return Audio{}, fmt.Errorf("%w: audio exceeds %d bytes", ErrInvalidAudio, l.MaxBytes)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("%w: empty download", ErrInvalidAudio)
	}

	mimeType := "audio/ogg"
	if ct := res.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			mimeType = mt
		}
	}
	return Audio{MIMEType: mimeType, Data: data}, nil
}
