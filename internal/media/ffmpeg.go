// SPDX-License-Identifier: MIT

package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/taskstream/internal/log"
)

// FFmpeg runs ffmpeg/ffprobe as subprocesses. It implements Transcoder and
// Concatenator. Outputs land in OutputDir with generated names.
type FFmpeg struct {
	BinPath   string // ffmpeg binary, default "ffmpeg"
	ProbePath string // ffprobe binary, default "ffprobe"
	OutputDir string

	logger zerolog.Logger
}

// NewFFmpeg creates an FFmpeg runner writing outputs to outputDir.
func NewFFmpeg(outputDir string) *FFmpeg {
	return &FFmpeg{
		BinPath:   "ffmpeg",
		ProbePath: "ffprobe",
		OutputDir: outputDir,
		logger:    log.WithComponent("ffmpeg"),
	}
}

// probeDuration asks ffprobe for the container duration. A zero duration is
// not an error; progress reporting degrades to a single 100% on completion.
func (f *FFmpeg) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ProbePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path) // #nosec G204 -- path comes from the job's validated input set
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: parse duration %q: %w", filepath.Base(path), strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// run executes ffmpeg with args, streaming "-progress pipe:1" into
// onProgress scaled against total.
func (f *FFmpeg) run(ctx context.Context, total time.Duration, onProgress ProgressFunc, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y", "-progress", "pipe:1"}, args...)
	cmd := exec.CommandContext(ctx, f.BinPath, full...) // #nosec G204 -- args are built from validated paths
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	parseProgress(stdout, total, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Error().
			Str("event", "ffmpeg.failed").
			Str("stderr", tail(stderr.String(), 512)).
			Msg("ffmpeg exited with error")
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Transcode converts inputPath to 16 kHz mono WAV, the working format the
// recognition engine expects.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath string, onProgress ProgressFunc) (string, error) {
	total, err := f.probeDuration(ctx, inputPath)
	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("event", "ffmpeg.probe_failed").
			Str(log.FieldInputFile, filepath.Base(inputPath)).
			Msg("duration unknown, progress will be coarse")
	}

	outputPath := filepath.Join(f.OutputDir, uuid.NewString()+".wav")
	err = f.run(ctx, total, onProgress,
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath)
	if err != nil {
		os.Remove(outputPath) //nolint:errcheck // partial output, best effort
		return "", err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return outputPath, nil
}

// Concat joins inputPaths in order via the concat demuxer. Inputs must
// already share a format, which preprocess guarantees.
func (f *FFmpeg) Concat(ctx context.Context, inputPaths []string, onProgress ProgressFunc) (string, error) {
	if len(inputPaths) == 0 {
		return "", ErrNoInput
	}

	var total time.Duration
	for _, p := range inputPaths {
		d, err := f.probeDuration(ctx, p)
		if err != nil {
			total = 0
			break
		}
		total += d
	}

	listPath, err := f.writeConcatList(inputPaths)
	if err != nil {
		return "", err
	}
	defer os.Remove(listPath) //nolint:errcheck

	outputPath := filepath.Join(f.OutputDir, uuid.NewString()+".wav")
	err = f.run(ctx, total, onProgress,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath)
	if err != nil {
		os.Remove(outputPath) //nolint:errcheck
		return "", err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return outputPath, nil
}

// writeConcatList renders the demuxer list file. Single quotes in paths are
// escaped per the concat demuxer's quoting rules.
func (f *FFmpeg) writeConcatList(paths []string) (string, error) {
	var buf bytes.Buffer
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		fmt.Fprintf(&buf, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	listPath := filepath.Join(f.OutputDir, uuid.NewString()+".txt")
	if err := WriteFileAtomic(listPath, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return listPath, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
