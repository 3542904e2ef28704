// Package textenc encodes text into a segmented output buffer without first
// materializing the encoded bytes.
package textenc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrBufferTooSmall is returned when the sink cannot provide any room for
// encoded output.
var ErrBufferTooSmall = errors.New("textenc: output buffer too small")

// errStalled means the transformer neither consumed input nor produced
// output although room was available.
var errStalled = errors.New("textenc: encoder made no progress")

const (
	// minUnitSize is the largest single code unit sequence any supported
	// encoding produces for one rune.
	minUnitSize = 4

	// windowSize bounds how much source text is handed to the transformer
	// at once.
	windowSize = 512
)

// Sink is the writable side of a segmented buffer.
type Sink interface {
	Buffer(minSize int) []byte
	Commit(n int)
}

// Encoder writes text in a fixed character encoding.
type Encoder struct {
	enc  encoding.Encoding
	name string
	utf8 bool
}

// UTF8 is the default encoder.
var UTF8 = New(unicode.UTF8, "utf-8")

// New returns an Encoder for enc. name is used only for display.
func New(enc encoding.Encoding, name string) *Encoder {
	return &Encoder{enc: enc, name: name, utf8: enc == unicode.UTF8}
}

// Lookup returns an Encoder for a WHATWG encoding label such as "utf-8",
// "utf-16le" or "shift_jis".
func Lookup(label string) (*Encoder, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || label == "utf-8" || label == "utf8" {
		return UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	return New(enc, name), nil
}

// Name returns the encoding label.
func (e *Encoder) Name() string { return e.name }

// Encoding returns the underlying encoding, mostly for decoding in tests and
// clients.
func (e *Encoder) Encoding() encoding.Encoding { return e.enc }

// EncodedLen returns the number of bytes text occupies once encoded.
func (e *Encoder) EncodedLen(text string) (int, error) {
	if e.utf8 && utf8.ValidString(text) {
		return len(text), nil
	}
	var n byteCounter
	w := transform.NewWriter(&n, e.enc.NewEncoder())
	var window [windowSize]byte
	for i := 0; i < len(text); {
		k := copy(window[:], text[i:])
		if _, err := w.Write(window[:k]); err != nil {
			return 0, err
		}
		i += k
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Write encodes text into sink. It asks for as few segments as possible and
// returns only after every encoded byte has been committed and the encoder
// holds no pending state.
func (e *Encoder) Write(sink Sink, text string) error {
	if text == "" {
		return nil
	}
	total, err := e.EncodedLen(text)
	if err != nil {
		return err
	}

	dst := sink.Buffer(minUnitSize)
	if len(dst) == 0 {
		return ErrBufferTooSmall
	}
	if total <= len(dst) {
		return e.writeSingle(sink, dst, text, total)
	}
	return e.writeSegmented(sink, dst, text, total)
}

func (e *Encoder) writeSingle(sink Sink, dst []byte, text string, total int) error {
	if e.utf8 && total == len(text) {
		sink.Commit(copy(dst, text))
		return nil
	}
	n, _, err := e.enc.NewEncoder().Transform(dst, []byte(text), true)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	sink.Commit(n)
	if n != total {
		return fmt.Errorf("encode: wrote %d of %d bytes", n, total)
	}
	return nil
}

// writeSegmented is the incremental path. Some transformers report success
// before the whole input is consumed, so the loop also tracks the committed
// byte count against total.
func (e *Encoder) writeSegmented(sink Sink, dst []byte, text string, total int) error {
	t := e.enc.NewEncoder()
	var (
		window  [windowSize]byte
		stage   [8 * minUnitSize]byte
		spill   []byte
		pos     int
		written int
		flushed bool
	)

	for !flushed || written != total || len(spill) > 0 {
		if len(spill) > 0 {
			n := copy(dst, spill)
			sink.Commit(n)
			written += n
			spill = spill[n:]
			if len(spill) == 0 && flushed && written == total {
				break
			}
			want := 1
			if len(spill) == 0 {
				want = minUnitSize
			}
			dst = sink.Buffer(want)
			if len(dst) == 0 {
				return ErrBufferTooSmall
			}
			continue
		}
		if flushed {
			return fmt.Errorf("encode: wrote %d of %d bytes", written, total)
		}

		k := copy(window[:], text[pos:])
		atEOF := pos+k == len(text)
		nDst, nSrc, err := t.Transform(dst, window[:k], atEOF)
		sink.Commit(nDst)
		written += nDst
		pos += nSrc

		switch {
		case err == nil:
			flushed = atEOF
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				// The segment is smaller than the next encoded unit; encode
				// it into the stage buffer and copy it out piecewise.
				k = copy(window[:], text[pos:])
				atEOF = pos+k == len(text)
				nDst, nSrc, err = t.Transform(stage[:], window[:k], atEOF)
				if nDst == 0 && nSrc == 0 && err != nil {
					return fmt.Errorf("encode: %w", errStalled)
				}
				if err != nil && !errors.Is(err, transform.ErrShortDst) && !errors.Is(err, transform.ErrShortSrc) {
					return fmt.Errorf("encode: %w", err)
				}
				spill = stage[:nDst]
				pos += nSrc
				flushed = err == nil && atEOF
				continue
			}
		case errors.Is(err, transform.ErrShortSrc):
			if nSrc == 0 && nDst == 0 {
				return fmt.Errorf("encode: %w", errStalled)
			}
		default:
			return fmt.Errorf("encode: %w", err)
		}

		if !flushed || written != total {
			dst = sink.Buffer(minUnitSize)
			if len(dst) == 0 {
				return ErrBufferTooSmall
			}
		}
	}
	return nil
}

type byteCounter int

func (c *byteCounter) Write(p []byte) (int, error) {
	*c += byteCounter(len(p))
	return len(p), nil
}
