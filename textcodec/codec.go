// Package textcodec converts between the character set spoken by a serial
// device and the UTF-8 text carried by remote messages.
package textcodec

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrUnsupportedCharset is returned by Lookup for names without a usable encoding.
var ErrUnsupportedCharset = errors.New("textcodec: unsupported charset")

// Codec converts device bytes to UTF-8 and back.
// The zero value and a nil *Codec pass bytes through unchanged.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// Passthrough is the codec of devices that already speak UTF-8 or raw bytes.
var Passthrough = &Codec{name: "UTF-8"}

// Lookup resolves an IANA charset name (e.g. "ISO-8859-1", "windows-1252",
// "Shift_JIS"). An empty name and UTF-8 resolve to Passthrough.
func Lookup(name string) (*Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return Passthrough, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnsupportedCharset, name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedCharset, name)
	}

	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	if strings.EqualFold(canonical, "UTF-8") {
		return Passthrough, nil
	}

	return &Codec{name: canonical, enc: enc}, nil
}

// Name returns the canonical IANA name of the charset.
func (c *Codec) Name() string {
	if c == nil || c.name == "" {
		return Passthrough.name
	}

	return c.name
}

// IsPassthrough reports whether the codec leaves bytes unchanged.
func (c *Codec) IsPassthrough() bool {
	return c == nil || c.enc == nil
}

// Decode converts bytes in the device charset to UTF-8.
func (c *Codec) Decode(b []byte) ([]byte, error) {
	if c.IsPassthrough() {
		return b, nil
	}

	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("textcodec: decode %s: %w", c.name, err)
	}

	return out, nil
}

// Encode converts UTF-8 text to the device charset. Runes the charset cannot
// represent are replaced by the charset's replacement character.
func (c *Codec) Encode(b []byte) ([]byte, error) {
	if c.IsPassthrough() {
		return b, nil
	}

	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("textcodec: encode %s: %w", c.name, err)
	}

	return out, nil
}
