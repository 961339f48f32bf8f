package flows

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestParseDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("OggS-fake"))

	a, err := ParseDataURI("data:audio/ogg;base64," + payload)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", a.MIMEType)
	assert.Equal(t, []byte("OggS-fake"), a.Data)

	a, err = ParseDataURI("data:Audio/OGG; codecs=opus;base64," + payload)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", a.MIMEType)

	bad := []string{
		"audio/ogg;base64," + payload,
		"data:audio/ogg;base64",
		"data:audio/ogg," + payload,
		"data:;base64," + payload,
		"data:audio/ogg;base64,!!!",
		"data:audio/ogg;base64,",
		"data:audio/;base64," + payload,
	}
	for _, in := range bad {
		_, err := ParseDataURI(in)
		assert.ErrorIs(t, err, ErrInvalidAudio, in)
	}
}

func TestLoaderEnforcesSizeCap(t *testing.T) {
	l := NewLoader(4)
	_, err := l.Load(context.Background(), "data:audio/ogg;base64,"+base64.StdEncoding.EncodeToString([]byte("too long")))
	assert.ErrorIs(t, err, ErrInvalidAudio)

	_, err = l.Load(context.Background(), "ftp://example.com/a.ogg")
	assert.ErrorIs(t, err, ErrInvalidAudio)

	_, err = l.Load(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidAudio)
}

func TestLoaderDownloadsRemoteAudio(t *testing.T) {
	l := NewLoader(1024)
	l.Client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/ok.mp3":
			h := make(http.Header)
			h.Set("Content-Type", "audio/mpeg; charset=binary")
			return &http.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(strings.NewReader("ID3"))}, nil
		case "/big.ogg":
			return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: io.NopCloser(strings.NewReader(strings.Repeat("x", 2048)))}, nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Header: make(http.Header), Body: io.NopCloser(strings.NewReader(""))}, nil
	})}

	a, err := l.Load(context.Background(), "https://media.example.com/ok.mp3")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", a.MIMEType)
	assert.Equal(t, []byte("ID3"), a.Data)

	_, err = l.Load(context.Background(), "https://media.example.com/big.ogg")
	assert.ErrorIs(t, err, ErrInvalidAudio)

	_, err = l.Load(context.Background(), "https://media.example.com/missing.ogg")
	assert.ErrorIs(t, err, ErrInvalidAudio)
}
