package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"

	// DefaultChunkSize is the fragment size used when a provider has no native streaming
	DefaultChunkSize = 24
)

// ReadSSE reads a server-sent-event body and passes every data payload to
// onData. Non-data frames are ignored and the [DONE] sentinel ends the read.
func ReadSSE(ctx context.Context, r io.Reader, onData func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == "" {
			continue
		}
		if data == sseDone {
			return nil
		}

		if err := onData([]byte(data)); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return scanner.Err()
}

// ReadNDJSON reads a newline-delimited JSON body, one object per line
func ReadNDJSON(ctx context.Context, r io.Reader, onLine func(line []byte) (done bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		done, err := onLine(line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return scanner.Err()
}

// SkipMalformed logs a frame that could not be decoded. The stream continues.
func SkipMalformed(provider string, data []byte, err error) {
	log.Debug().
		Str("provider", provider).
		Int("frame_bytes", len(data)).
		Err(err).
		Msg("Skipping malformed stream frame")
}

// Collector accumulates streamed fragments and forwards them to callbacks
type Collector struct {
	cb *Callbacks
	sb strings.Builder
}

// NewCollector starts a collection and fires OnStart
func NewCollector(cb *Callbacks) *Collector {
	cb.Start()
	return &Collector{cb: cb}
}

// Add records a fragment and forwards it to OnToken
func (c *Collector) Add(fragment string) {
	if fragment == "" {
		return
	}
	c.sb.WriteString(fragment)
	c.cb.Token(fragment)
}

// Text returns everything collected so far
func (c *Collector) Text() string {
	return c.sb.String()
}

// Finish fires OnComplete with the collected text and returns it
func (c *Collector) Finish() string {
	full := c.sb.String()
	c.cb.Complete(full)
	return full
}

// EmitChunked delivers a complete response through the callback contract by
// splitting it into fragments. Chunks never split a UTF-8 sequence.
func EmitChunked(text string, size int, cb *Callbacks) string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	col := NewCollector(cb)
	for len(text) > 0 {
		n := size
		if n >= len(text) {
			n = len(text)
		} else {
			for n < len(text) && !isRuneStart(text[n]) {
				n++
			}
		}
		col.Add(text[:n])
		text = text[n:]
	}
	return col.Finish()
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
