// Package media turns remote image and video URLs into Bot API attachment
// references: the URL itself, or a locally downloaded (and optionally
// compressed) file sent as an attach:// part.
package media

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Download        bool
	Dir             string
	Compress        bool
	FFmpegPath      string
	FFprobePath     string
	MaxVideoSize    int64
	// MaxDownloadSize bounds a single download, before any compression.
	MaxDownloadSize int64
	MaxThumbSize    int64
	ThumbWidth      int
	MinVideoBitrate int // kbit/s
	AudioBitrate    int // kbit/s
	CacheBust       bool
	Timeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = "attachments"
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFprobePath == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.MaxVideoSize <= 0 {
		c.MaxVideoSize = 50 << 20
	}
	if c.MaxDownloadSize <= 0 {
		c.MaxDownloadSize = 4 * c.MaxVideoSize
	}
	if c.MaxThumbSize <= 0 {
		c.MaxThumbSize = 200 << 10
	}
	if c.ThumbWidth <= 0 {
		c.ThumbWidth = 320
	}
	if c.MinVideoBitrate <= 0 {
		c.MinVideoBitrate = 200
	}
	if c.AudioBitrate <= 0 {
		c.AudioBitrate = 128
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Attachment is the send-ready form of one media URL.
type Attachment struct {
	// Ref is the value of the photo/video/media field.
	Ref   string
	Thumb string
	// Files maps multipart part names to local paths. Part names derive
	// from the URL; paths are unique per download.
	Files    map[string]string
	Duration int
	Width    int
	Height   int
}

// Local reports whether the attachment is uploaded rather than fetched by
// the Bot API from a URL.
func (a Attachment) Local() bool { return len(a.Files) > 0 }

// Runner executes an external tool and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type Preparer struct {
	cfg        Config
	httpClient *http.Client
	runner     Runner
	logger     *slog.Logger
}

func NewPreparer(cfg Config, httpClient *http.Client, runner Runner, logger *slog.Logger) *Preparer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Preparer{
		cfg:        cfg.withDefaults(),
		httpClient: httpClient,
		runner:     runner,
		logger:     logger,
	}
}

// Photo prepares an image. Any failure falls back to the remote URL.
func (p *Preparer) Photo(ctx context.Context, rawURL string, headers map[string]string) Attachment {
	remote := Attachment{Ref: p.remoteURL(rawURL)}
	if !p.cfg.Download {
		return remote
	}

	name, filePath, err := p.download(ctx, rawURL, headers, ".jpg")
	if err != nil {
		p.logger.Warn("failed to download photo, sending url", "url", rawURL, "error", err)
		return remote
	}
	return Attachment{
		Ref:   "attach://" + name,
		Files: map[string]string{name: filePath},
	}
}

// Video prepares a video: download, optional compression to fit the upload
// limit, probing and thumbnail extraction. Any failure falls back to the
// remote URL.
func (p *Preparer) Video(ctx context.Context, rawURL string, headers map[string]string) Attachment {
	remote := Attachment{Ref: p.remoteURL(rawURL)}
	if !p.cfg.Download {
		return remote
	}

	name, filePath, err := p.download(ctx, rawURL, headers, ".mp4")
	if err != nil {
		p.logger.Warn("failed to download video, sending url", "url", rawURL, "error", err)
		return remote
	}

	if p.cfg.Compress {
		compressed, err := p.compress(ctx, filePath)
		if err != nil {
			p.logger.Warn("failed to compress video, sending url", "url", rawURL, "error", err)
			p.Release(Attachment{Files: map[string]string{name: filePath}})
			return remote
		}
		filePath = compressed
	}

	att := Attachment{
		Ref:   "attach://" + name,
		Files: map[string]string{name: filePath},
	}

	info, err := p.probe(ctx, filePath)
	if err != nil {
		p.logger.Debug("failed to probe video", "path", filePath, "error", err)
		return att
	}
	att.Duration, att.Width, att.Height = info.duration, info.width, info.height

	thumbPath := strings.TrimSuffix(filePath, filepath.Ext(filePath)) + "_thumb.jpg"
	if err := p.thumbnail(ctx, filePath, thumbPath); err != nil {
		p.logger.Debug("failed to extract thumbnail", "path", filePath, "error", err)
		return att
	}
	att.Thumb = "attach://" + name + "_thumb"
	att.Files[name+"_thumb"] = thumbPath
	return att
}

// Release removes the local files of attachments once the item is done.
func (p *Preparer) Release(atts ...Attachment) {
	for _, a := range atts {
		for _, f := range a.Files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				p.logger.Debug("failed to remove attachment", "path", f, "error", err)
			}
		}
	}
}

// remoteURL adds a random query parameter when cache busting is enabled,
// so the Bot API does not serve a stale copy of a URL it failed on before.
func (p *Preparer) remoteURL(rawURL string) string {
	if !p.cfg.CacheBust {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)
	q := u.Query()
	q.Set("_cb", hex.EncodeToString(nonce))
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Preparer) download(ctx context.Context, rawURL string, headers map[string]string, defaultExt string) (string, string, error) {
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create attachments dir: %w", err)
	}

	sum := md5.Sum([]byte(rawURL))
	name := hex.EncodeToString(sum[:])

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Feeds share the directory and may carry the same URL at once.
	f, err := os.CreateTemp(p.cfg.Dir, name+"-*"+extOf(rawURL, defaultExt))
	if err != nil {
		return "", "", fmt.Errorf("create file: %w", err)
	}
	filePath := f.Name()

	n, err := io.Copy(f, io.LimitReader(resp.Body, p.cfg.MaxDownloadSize+1))
	if err == nil && n > p.cfg.MaxDownloadSize {
		err = fmt.Errorf("body exceeds %d bytes", p.cfg.MaxDownloadSize)
	}
	if err != nil {
		f.Close()
		_ = os.Remove(filePath)
		return "", "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(filePath)
		return "", "", fmt.Errorf("close file: %w", err)
	}
	return name, filePath, nil
}

func extOf(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}
