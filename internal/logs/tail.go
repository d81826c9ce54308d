package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// MaxLineBytes bounds a single returned line; longer records are truncated.
const MaxLineBytes = 1 << 20

const pollInterval = 250 * time.Millisecond

// TailOptions selects where reading starts. A negative Offset returns the last
// Limit lines; otherwise reading resumes at Offset. With Follow, an empty read
// waits up to Wait for new lines.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult holds complete lines and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads complete lines from path. A trailing partial line is left for the
// next call. A missing file yields no lines and offset zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	offset := opts.Offset
	if offset > info.Size() {
		// Rotated or truncated underneath us.
		offset = 0
	}
	if offset < 0 {
		lines, end, err := readLastLines(path, opts.Limit)
		if err != nil {
			return result, err
		}
		result.Lines, result.Offset = lines, end
		if opts.Follow && len(lines) == 0 {
			return waitForLines(ctx, path, end, opts.Wait)
		}
		return result, nil
	}

	lines, end, err := readForward(path, offset)
	if err != nil {
		return result, err
	}
	result.Lines, result.Offset = lines, end
	if opts.Follow && len(lines) == 0 {
		return waitForLines(ctx, path, end, opts.Wait)
	}
	return result, nil
}

// scanLines calls fn for each complete line from offset and returns the offset
// just past the last complete line.
func scanLines(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	pos, lineStart := offset, offset
	var line []byte
	for {
		frag, err := reader.ReadSlice('\n')
		if len(line) < MaxLineBytes {
			room := MaxLineBytes - len(line)
			if len(frag) < room {
				room = len(frag)
			}
			line = append(line, frag[:room]...)
		}
		switch {
		case err == nil:
			pos += int64(len(frag))
			lineStart = pos
			fn(string(trimNewline(line)))
			line = line[:0]
		case errors.Is(err, bufio.ErrBufferFull):
			pos += int64(len(frag))
		case errors.Is(err, io.EOF):
			// An unterminated tail is re-read once complete.
			return lineStart, nil
		default:
			return lineStart, fmt.Errorf("read log file: %w", err)
		}
	}
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

func readForward(path string, offset int64) ([]string, int64, error) {
	var lines []string
	end, err := scanLines(path, offset, func(line string) {
		lines = append(lines, line)
	})
	return lines, end, err
}

func readLastLines(path string, limit int) ([]string, int64, error) {
	if limit <= 0 {
		end, err := scanLines(path, 0, func(string) {})
		return nil, end, err
	}
	ring := make([]string, limit)
	count, idx := 0, 0
	end, err := scanLines(path, 0, func(line string) {
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}
	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, end, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, end, err := readForward(path, offset)
		if err != nil {
			return result, err
		}
		if len(lines) > 0 || !time.Now().Before(deadline) {
			result.Lines, result.Offset = lines, end
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
