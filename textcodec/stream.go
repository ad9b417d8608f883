package textcodec

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// StreamDecoder decodes a byte stream that arrives in arbitrary pieces.
//
// A character split across two pieces is held back until the rest of it
// arrives, so every decoded piece is complete UTF-8 text. For a passthrough
// codec the held back bytes are an incomplete trailing UTF-8 sequence.
//
// A StreamDecoder is not safe for concurrent use.
type StreamDecoder struct {
	codec   *Codec
	t       transform.Transformer
	pending []byte
}

// NewStreamDecoder returns a StreamDecoder for c.
func (c *Codec) NewStreamDecoder() *StreamDecoder {
	d := &StreamDecoder{codec: c}
	if !c.IsPassthrough() {
		d.t = c.enc.NewDecoder()
	}

	return d
}

// Pending returns the number of bytes held back for the next piece.
func (d *StreamDecoder) Pending() int {
	return len(d.pending)
}

// Decode decodes b, prefixed by the bytes held back from the previous call.
// With final set nothing is held back: an incomplete trailing sequence is
// decoded (or passed through) as is and the decoder starts afresh.
//
// On error the held back bytes are discarded.
func (d *StreamDecoder) Decode(b []byte, final bool) ([]byte, error) {
	src := make([]byte, 0, len(d.pending)+len(b))
	src = append(src, d.pending...)
	src = append(src, b...)
	d.pending = nil

	if d.t == nil {
		if !final {
			if n := incompleteTail(src); n > 0 {
				d.pending = append([]byte(nil), src[len(src)-n:]...)
				src = src[:len(src)-n]
			}
		}

		return src, nil
	}

	out, rest, err := d.transform(src, final)
	if err != nil {
		d.t.Reset()
		return nil, fmt.Errorf("textcodec: decode %s: %w", d.codec.Name(), err)
	}

	if final {
		d.t.Reset()
	} else if len(rest) > 0 {
		d.pending = append([]byte(nil), rest...)
	}

	return out, nil
}

// transform runs the decoder over src and returns the decoded bytes and the
// unconsumed tail of an incomplete character.
func (d *StreamDecoder) transform(src []byte, atEOF bool) ([]byte, []byte, error) {
	out := make([]byte, 0, len(src)*2)
	buf := make([]byte, len(src)*3+utf8.UTFMax)

	for {
		nDst, nSrc, err := d.t.Transform(buf, src, atEOF)
		out = append(out, buf[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			return out, nil, nil
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			return out, src, nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				buf = make([]byte, len(buf)*2)
			}
		default:
			return nil, nil, err
		}
	}
}

// incompleteTail returns the length of a UTF-8 sequence at the end of b that
// has a valid start but misses its continuation bytes.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return 0
		}

		return i
	}

	return 0
}
