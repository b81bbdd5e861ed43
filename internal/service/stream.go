package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readLines calls fn for every line of r until EOF or until ctx ends.
// Invalid UTF-8 is replaced by U+FFFD and lines have no length limit.
func readLines(ctx context.Context, r io.Reader, fn LineFunc) error {
	if fn == nil {
		_, err := io.Copy(io.Discard, r)
		return ignoreClosed(err)
	}

	br := bufio.NewReader(transform.NewReader(r, unicode.UTF8.NewDecoder()))
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := br.ReadString('\n')
		if line != "" {
			fn(ctx, strings.TrimSpace(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ignoreClosed(err)
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
