package attachments

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/realty-inbox/internal/config"
	"github.com/2389/realty-inbox/internal/store"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestUploadAll_Success(t *testing.T) {
	s := newLocal(t, 1<<20)

	atts, err := UploadAll(t.Context(), s, []File{
		{Name: "a.txt", Reader: strings.NewReader("a")},
		{Name: "b.txt", Reader: strings.NewReader("b")},
	}, nil)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "a.txt", atts[0].Name)
	assert.Equal(t, "b.txt", atts[1].Name)
}

func TestUploadAll_FailureRollsBack(t *testing.T) {
	s := newLocal(t, 1<<20)

	var first store.Attachment
	spy := &spyStore{Store: s, onUpload: func(a store.Attachment) {
		if first.URL == "" {
			first = a
		}
	}}

	_, err := UploadAll(t.Context(), spy, []File{
		{Name: "ok.txt", Reader: strings.NewReader("fine")},
		{Name: "broken.txt", Reader: failingReader{}},
	}, nil)
	require.ErrorIs(t, err, ErrUpload)

	require.NotEmpty(t, first.URL)
	ok, err := s.Exists(t.Context(), first.URL)
	require.NoError(t, err)
	assert.False(t, ok, "earlier upload should be removed")
}

func TestUploadAll_TooLargeKeepsSentinel(t *testing.T) {
	s := newLocal(t, 3)

	_, err := UploadAll(t.Context(), s, []File{{Name: "big.txt", Reader: strings.NewReader("toolong")}}, nil)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRollback(t *testing.T) {
	s := newLocal(t, 1<<20)
	att, err := s.Upload(t.Context(), "a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	Rollback(s, []store.Attachment{att, {URL: "https://elsewhere/x"}}, nil)

	ok, err := s.Exists(t.Context(), att.URL)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New(t.Context(), config.AttachmentsConfig{Backend: "local", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(t.Context(), config.AttachmentsConfig{Backend: "ftp"}, nil)
	assert.Error(t, err)
}

type spyStore struct {
	Store
	onUpload func(store.Attachment)
}

func (s *spyStore) Upload(ctx context.Context, name string, r io.Reader) (store.Attachment, error) {
	att, err := s.Store.Upload(ctx, name, r)
	if err == nil {
		s.onUpload(att)
	}
	return att, err
}
