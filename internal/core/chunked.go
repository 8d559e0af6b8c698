package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedChunk reports an aws-chunked body that could not be decoded.
var ErrMalformedChunk = errors.New("malformed aws-chunked payload")

const streamingPayloadPrefix = "STREAMING-"

// isStreamingPayload reports whether X-Amz-Content-Sha256 announces an
// aws-chunked body, signed or not, with or without trailers.
func isStreamingPayload(contentSHA string) bool {
	return strings.HasPrefix(strings.ToUpper(contentSHA), streamingPayloadPrefix)
}

// chunkedReader decodes an aws-chunked request body:
//
//	<size-hex>[;chunk-signature=...]\r\n<data>\r\n ... 0[;...]\r\n[trailers]
//
// Chunk signatures and trailing checksums are skipped.
type chunkedReader struct {
	br        *bufio.Reader
	remaining int64
	needCRLF  bool
	done      bool
	err       error

	decoded  int64
	expected int64
}

// newChunkedReader wraps body. expected is the X-Amz-Decoded-Content-Length,
// or -1 when unknown; a mismatch fails the final read.
func newChunkedReader(body io.Reader, expected int64) *chunkedReader {
	return &chunkedReader{
		br:       bufio.NewReader(body),
		expected: expected,
	}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}

	for c.remaining == 0 {
		if c.done {
			return 0, io.EOF
		}
		if err := c.nextChunk(); err != nil {
			c.err = err
			return 0, err
		}
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.br.Read(p)
	c.remaining -= int64(n)
	c.decoded += int64(n)

	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		c.err = fmt.Errorf("%w: read chunk body: %w", ErrMalformedChunk, err)
		return n, c.err
	}
	return n, nil
}

func (c *chunkedReader) nextChunk() error {
	if c.needCRLF {
		if err := c.expectCRLF(); err != nil {
			return err
		}
		c.needCRLF = false
	}

	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("%w: read chunk header: %w", ErrMalformedChunk, err)
	}

	sizeHex, _, _ := strings.Cut(line, ";")
	size, err := strconv.ParseInt(strings.TrimSpace(sizeHex), 16, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("%w: bad chunk size %q", ErrMalformedChunk, sizeHex)
	}

	if size > 0 {
		c.remaining = size
		c.needCRLF = true
		return nil
	}

	// Final chunk. Whatever follows is trailer headers and, for signed
	// trailers, their signature; none of it is payload.
	if _, err := io.Copy(io.Discard, c.br); err != nil {
		return fmt.Errorf("%w: read trailer: %w", ErrMalformedChunk, err)
	}

	if c.expected >= 0 && c.decoded != c.expected {
		return fmt.Errorf("%w: decoded %d bytes, expected %d", ErrMalformedChunk, c.decoded, c.expected)
	}
	c.done = true
	return nil
}

func (c *chunkedReader) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *chunkedReader) expectCRLF() error {
	for _, want := range []byte{'\r', '\n'} {
		b, err := c.br.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: read chunk terminator: %w", ErrMalformedChunk, err)
		}
		if b != want {
			return fmt.Errorf("%w: expected %q after chunk, got %q", ErrMalformedChunk, want, b)
		}
	}
	return nil
}
