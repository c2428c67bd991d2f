package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// maxLineBytes bounds a single console line. Manifest lines list every world
// file and can be far longer than bufio's 64KiB default.
const maxLineBytes = 4 * 1024 * 1024

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("console channel closed")

// Channel is the text channel to the server's standard input. Output is
// relayed separately by Relay so stdout and stderr keep their own ordering.
type Channel struct {
	mu     sync.Mutex
	stdin  io.WriteCloser
	closed bool
}

// NewChannel wraps the process stdin.
func NewChannel(stdin io.WriteCloser) *Channel {
	return &Channel{stdin: stdin}
}

// Send writes one newline-terminated command. Embedded line breaks are
// rejected; the server reads exactly one command per line.
func (c *Channel) Send(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("command contains a line break: %q", line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if _, err := io.WriteString(c.stdin, line+"\n"); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// Close closes stdin. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.stdin.Close()
}

// Relay reads reader line by line and hands each line, timestamped, to
// publish in the order it was read. A line longer than maxLineBytes is
// dropped with a warning and relaying carries on with the next one. It
// returns when the reader is exhausted or ctx is cancelled.
func Relay(ctx context.Context, reader io.Reader, stream string, publish func(events.ConsoleLine)) error {
	br := bufio.NewReaderSize(reader, 64*1024)
	var line []byte
	overlong := false

	for {
		chunk, err := br.ReadSlice('\n')
		if !overlong {
			if len(line)+len(chunk) > maxLineBytes {
				overlong = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err == nil || len(line) > 0 || overlong {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if overlong {
				log.Printf("[Console] Warning: Dropped %s line longer than %d bytes", stream, maxLineBytes)
			} else {
				publish(events.ConsoleLine{
					Text:       strings.TrimRight(string(line), "\r\n"),
					Stream:     stream,
					ReceivedAt: time.Now(),
				})
			}
			line = line[:0]
			overlong = false
		}

		switch {
		case err == nil:
		case err == io.EOF, errors.Is(err, io.ErrClosedPipe), errors.Is(err, os.ErrClosed):
			return nil
		default:
			return fmt.Errorf("failed to read %s: %w", stream, err)
		}
	}
}
