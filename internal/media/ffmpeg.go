package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ExecRunner runs tools found on PATH.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

type videoInfo struct {
	duration int
	width    int
	height   int
	seconds  float64
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *Preparer) probe(ctx context.Context, filePath string) (videoInfo, error) {
	out, err := p.runner.Run(ctx, p.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		filePath,
	)
	if err != nil {
		return videoInfo{}, err
	}

	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return videoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info videoInfo
	if len(po.Streams) > 0 {
		info.width, info.height = po.Streams[0].Width, po.Streams[0].Height
	}
	if secs, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		info.seconds = secs
		info.duration = int(secs + 0.5)
	}
	return info, nil
}

// thumbnail grabs the first frame scaled to the thumbnail width, lowering
// JPEG quality until the file fits the thumbnail size limit.
func (p *Preparer) thumbnail(ctx context.Context, videoPath, thumbPath string) error {
	for q := 2; q <= 31; q += 4 {
		_, err := p.runner.Run(ctx, p.cfg.FFmpegPath,
			"-y", "-loglevel", "error",
			"-i", videoPath,
			"-vframes", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", p.cfg.ThumbWidth),
			"-q:v", strconv.Itoa(q),
			thumbPath,
		)
		if err != nil {
			return err
		}
		st, err := os.Stat(thumbPath)
		if err != nil {
			return fmt.Errorf("stat thumbnail: %w", err)
		}
		if st.Size() <= p.cfg.MaxThumbSize {
			return nil
		}
	}
	_ = os.Remove(thumbPath)
	return errors.New("thumbnail exceeds size limit at lowest quality")
}

// compress re-encodes filePath with a two-pass x264 encode at the bitrate
// that fits MaxVideoSize, stepping the bitrate down while the result is
// still too large. Files already within the limit are returned unchanged.
func (p *Preparer) compress(ctx context.Context, filePath string) (string, error) {
	st, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("stat video: %w", err)
	}
	if st.Size() <= p.cfg.MaxVideoSize {
		return filePath, nil
	}

	info, err := p.probe(ctx, filePath)
	if err != nil {
		return "", err
	}
	if info.seconds <= 0 {
		return "", errors.New("unknown video duration")
	}

	budget := float64(p.cfg.MaxVideoSize*8) / 1000 / info.seconds
	bitrate := int(budget*0.95) - p.cfg.AudioBitrate

	base := strings.TrimSuffix(filePath, filepath.Ext(filePath))
	out := base + "_c.mp4"
	passLog := base + "_pass"
	defer func() {
		_ = os.Remove(passLog + "-0.log")
		_ = os.Remove(passLog + "-0.log.mbtree")
	}()

	for attempt := 0; attempt < 3; attempt++ {
		if bitrate < p.cfg.MinVideoBitrate {
			return "", fmt.Errorf("bitrate %dk below floor %dk", bitrate, p.cfg.MinVideoBitrate)
		}
		if err := p.encode(ctx, filePath, out, passLog, bitrate); err != nil {
			return "", err
		}
		st, err := os.Stat(out)
		if err != nil {
			return "", fmt.Errorf("stat compressed video: %w", err)
		}
		if st.Size() <= p.cfg.MaxVideoSize {
			_ = os.Remove(filePath)
			return out, nil
		}
		bitrate = bitrate * 85 / 100
	}
	_ = os.Remove(out)
	return "", errors.New("compressed video still exceeds size limit")
}

func (p *Preparer) encode(ctx context.Context, in, out, passLog string, bitrate int) error {
	vb := strconv.Itoa(bitrate) + "k"
	if _, err := p.runner.Run(ctx, p.cfg.FFmpegPath,
		"-y", "-loglevel", "error",
		"-i", in,
		"-c:v", "libx264", "-b:v", vb,
		"-pass", "1", "-passlogfile", passLog,
		"-an", "-f", "mp4", os.DevNull,
	); err != nil {
		return fmt.Errorf("first pass: %w", err)
	}
	if _, err := p.runner.Run(ctx, p.cfg.FFmpegPath,
		"-y", "-loglevel", "error",
		"-i", in,
		"-c:v", "libx264", "-b:v", vb,
		"-pass", "2", "-passlogfile", passLog,
		"-c:a", "aac", "-b:a", strconv.Itoa(p.cfg.AudioBitrate)+"k",
		"-movflags", "+faststart",
		out,
	); err != nil {
		return fmt.Errorf("second pass: %w", err)
	}
	return nil
}
