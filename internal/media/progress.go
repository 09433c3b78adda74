// SPDX-License-Identifier: MIT

package media

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// parseProgress consumes an ffmpeg "-progress pipe:1" stream and reports
// percentage relative to total. The stream is key=value lines; a block ends
// with "progress=continue" or "progress=end". Malformed lines are skipped.
func parseProgress(r io.Reader, total time.Duration, onProgress ProgressFunc) {
	if onProgress == nil || total <= 0 {
		io.Copy(io.Discard, r) //nolint:errcheck // drain so ffmpeg never blocks on the pipe
		return
	}

	var elapsed time.Duration
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds in current ffmpeg builds
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			elapsed = time.Duration(us) * time.Microsecond
		case "progress":
			pct := float64(elapsed) / float64(total) * 100
			if pct > 100 {
				pct = 100
			}
			if value == "end" {
				pct = 100
			}
			onProgress(pct)
		}
	}
}
