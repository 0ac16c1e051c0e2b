package media

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRunner answers ffprobe with a canned document and makes ffmpeg write
// its output file.
type fakeRunner struct {
	mu       sync.Mutex
	probe    string
	probeErr error
	outSize  int
	calls    []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()

	if strings.HasSuffix(name, "ffprobe") {
		return []byte(f.probe), f.probeErr
	}
	out := args[len(args)-1]
	if out != os.DevNull {
		if err := os.WriteFile(out, make([]byte, f.outSize), 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func mediaServer(t *testing.T, size int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "ref", r.Header.Get("Referer"))
		_, _ = w.Write(make([]byte, size))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPhoto_RemoteWhenDownloadDisabled(t *testing.T) {
	p := NewPreparer(Config{}, nil, &fakeRunner{}, testLogger())
	att := p.Photo(context.Background(), "http://x.com/a.jpg", nil)
	assert.Equal(t, "http://x.com/a.jpg", att.Ref)
	assert.False(t, att.Local())
}

func TestPhoto_CacheBustAddsParameter(t *testing.T) {
	p := NewPreparer(Config{CacheBust: true}, nil, &fakeRunner{}, testLogger())
	att := p.Photo(context.Background(), "http://x.com/a.jpg?w=1", nil)

	u, err := url.Parse(att.Ref)
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("w"))
	assert.Len(t, u.Query().Get("_cb"), 8)
}

func TestPhoto_DownloadsToAttachment(t *testing.T) {
	srv := mediaServer(t, 10)
	dir := t.TempDir()
	p := NewPreparer(Config{Download: true, Dir: dir}, srv.Client(), &fakeRunner{}, testLogger())

	att := p.Photo(context.Background(), srv.URL+"/img/a.png", map[string]string{"Referer": "ref"})
	require.True(t, att.Local())
	require.Len(t, att.Files, 1)
	for name, path := range att.Files {
		assert.Equal(t, "attach://"+name, att.Ref)
		assert.True(t, strings.HasPrefix(filepath.Base(path), name+"-"))
		assert.True(t, strings.HasSuffix(path, ".png"))
		assert.FileExists(t, path)
	}

	p.Release(att)
	for _, path := range att.Files {
		assert.NoFileExists(t, path)
	}
}

func TestPhoto_SameURLDownloadsDoNotShareFiles(t *testing.T) {
	srv := mediaServer(t, 10)
	p := NewPreparer(Config{Download: true, Dir: t.TempDir()}, srv.Client(), &fakeRunner{}, testLogger())
	headers := map[string]string{"Referer": "ref"}

	first := p.Photo(context.Background(), srv.URL+"/img/a.png", headers)
	second := p.Photo(context.Background(), srv.URL+"/img/a.png", headers)
	require.True(t, first.Local())
	require.True(t, second.Local())
	assert.Equal(t, first.Ref, second.Ref)

	var name string
	for n := range first.Files {
		name = n
	}
	require.NotEqual(t, first.Files[name], second.Files[name])

	p.Release(first)
	assert.NoFileExists(t, first.Files[name])
	assert.FileExists(t, second.Files[name])
	p.Release(second)
}

func TestPhoto_OversizedDownloadFallsBackToURL(t *testing.T) {
	srv := mediaServer(t, 2048)
	dir := t.TempDir()
	p := NewPreparer(Config{Download: true, Dir: dir, MaxDownloadSize: 1024}, srv.Client(), &fakeRunner{}, testLogger())

	att := p.Photo(context.Background(), srv.URL+"/img/big.png", map[string]string{"Referer": "ref"})
	assert.False(t, att.Local())
	assert.Equal(t, srv.URL+"/img/big.png", att.Ref)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVideo_DownloadFailureFallsBackToURL(t *testing.T) {
	srv := mediaServer(t, 10)
	p := NewPreparer(Config{Download: true, Dir: t.TempDir()}, srv.Client(), &fakeRunner{}, testLogger())

	att := p.Video(context.Background(), srv.URL+"/missing.mp4", nil)
	assert.Equal(t, srv.URL+"/missing.mp4", att.Ref)
	assert.False(t, att.Local())
}

func TestVideo_ProbesAndExtractsThumbnail(t *testing.T) {
	srv := mediaServer(t, 10)
	runner := &fakeRunner{
		probe:   `{"streams":[{"width":1280,"height":720}],"format":{"duration":"12.6"}}`,
		outSize: 100,
	}
	p := NewPreparer(Config{Download: true, Dir: t.TempDir()}, srv.Client(), runner, testLogger())

	att := p.Video(context.Background(), srv.URL+"/v.mp4", map[string]string{"Referer": "ref"})
	require.True(t, att.Local())
	assert.Equal(t, 13, att.Duration)
	assert.Equal(t, 1280, att.Width)
	assert.Equal(t, 720, att.Height)
	assert.True(t, strings.HasPrefix(att.Thumb, "attach://"))
	assert.Len(t, att.Files, 2)
}

func TestVideo_ProbeFailureKeepsUpload(t *testing.T) {
	srv := mediaServer(t, 10)
	runner := &fakeRunner{probeErr: errors.New("ffprobe: not found")}
	p := NewPreparer(Config{Download: true, Dir: t.TempDir()}, srv.Client(), runner, testLogger())

	att := p.Video(context.Background(), srv.URL+"/v.mp4", map[string]string{"Referer": "ref"})
	assert.True(t, att.Local())
	assert.Empty(t, att.Thumb)
	assert.Zero(t, att.Duration)
}

func TestVideo_ThumbnailTooLargeIsDropped(t *testing.T) {
	srv := mediaServer(t, 10)
	runner := &fakeRunner{probe: `{"streams":[],"format":{"duration":"3"}}`, outSize: 500}
	p := NewPreparer(Config{Download: true, Dir: t.TempDir(), MaxThumbSize: 100}, srv.Client(), runner, testLogger())

	att := p.Video(context.Background(), srv.URL+"/v.mp4", map[string]string{"Referer": "ref"})
	assert.True(t, att.Local())
	assert.Empty(t, att.Thumb)
	assert.Len(t, att.Files, 1)
}

func TestVideo_CompressionBelowBitrateFloorFallsBack(t *testing.T) {
	srv := mediaServer(t, 2000)
	runner := &fakeRunner{probe: `{"streams":[],"format":{"duration":"10"}}`}
	p := NewPreparer(Config{Download: true, Compress: true, Dir: t.TempDir(), MaxVideoSize: 1000},
		srv.Client(), runner, testLogger())

	att := p.Video(context.Background(), srv.URL+"/v.mp4", map[string]string{"Referer": "ref"})
	assert.Equal(t, srv.URL+"/v.mp4", att.Ref)
	assert.False(t, att.Local())
}

func TestVideo_CompressesOversizedFile(t *testing.T) {
	srv := mediaServer(t, 2000)
	runner := &fakeRunner{probe: `{"streams":[{"width":640,"height":360}],"format":{"duration":"0.01"}}`, outSize: 10}
	p := NewPreparer(Config{Download: true, Compress: true, Dir: t.TempDir(), MaxVideoSize: 1000},
		srv.Client(), runner, testLogger())

	att := p.Video(context.Background(), srv.URL+"/v.mp4", map[string]string{"Referer": "ref"})
	require.True(t, att.Local())
	for name, path := range att.Files {
		if !strings.HasSuffix(name, "_thumb") {
			assert.True(t, strings.HasSuffix(path, "_c.mp4"))
		}
	}

	var passes int
	for _, c := range runner.calls {
		if strings.Contains(c, "-pass") {
			passes++
		}
	}
	assert.Equal(t, 2, passes)
}
