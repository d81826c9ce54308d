package lineio

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	const bufSize = 16
	big := strings.Repeat("x", 5*bufSize)
	input := big + "\n" + strings.Repeat("y", 40) + "\r\nshort\n\ntail"
	r := bufio.NewReaderSize(strings.NewReader(input), bufSize)

	line, err := ReadLine(r, 100)
	if err != nil || string(line) != big {
		t.Fatalf("long line under limit: %q, %v", line, err)
	}

	_, err = ReadLine(r, 30)
	var tooLong *TooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected TooLongError, got %v", err)
	}
	if tooLong.Size != 41 || tooLong.Limit != 30 {
		t.Fatalf("unexpected sizes: %+v", tooLong)
	}

	for _, want := range []string{"short", "", "tail"} {
		line, err = ReadLine(r, 30)
		if err != nil || string(line) != want {
			t.Fatalf("want %q, got %q, %v", want, line, err)
		}
	}
	if _, err := ReadLine(r, 30); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadLineOversizedFinalLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(strings.Repeat("z", 50)))
	_, err := ReadLine(r, 10)
	var tooLong *TooLongError
	if !errors.As(err, &tooLong) || tooLong.Size != 50 {
		t.Fatalf("expected TooLongError for final line, got %v", err)
	}
	if _, err := ReadLine(r, 10); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
