// Package lineio reads newline-delimited records with a size cap that skips
// oversized lines instead of failing the stream.
package lineio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// TooLongError reports a line that was consumed and discarded because it
// exceeded the limit.
type TooLongError struct {
	Size  int
	Limit int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("line of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// ReadLine returns the next line without its trailing newline. A final line
// without a newline is returned before io.EOF. A line longer than limit is
// read through its newline and reported as *TooLongError, leaving r positioned
// at the following line.
func ReadLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	size := 0
	for {
		frag, err := r.ReadSlice('\n')
		size += len(frag)
		if size <= limit+1 {
			line = append(line, frag...)
		} else {
			line = nil
		}
		switch {
		case err == nil:
			if size-1 > limit {
				return nil, &TooLongError{Size: size - 1, Limit: limit}
			}
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && size > 0:
			if size > limit {
				return nil, &TooLongError{Size: size, Limit: limit}
			}
			return line, nil
		default:
			return nil, err
		}
	}
}
