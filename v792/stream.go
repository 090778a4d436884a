// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Encoder writes events to an output stream of big-endian 32-bit words,
// as they are laid out on the bus.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 4*MaxEventWords),
	}
}

// Encode writes the event to the stream.
func (enc *Encoder) Encode(evt *Event) error {
	if evt == nil {
		return nil
	}
	if len(evt.Data) > MaxChannels {
		return fmt.Errorf("v792: event with too many data words (%d)", len(evt.Data))
	}

	var words [MaxEventWords]uint32
	for _, w := range evt.AppendWords(words[:0]) {
		enc.writeU32(w)
	}
	return enc.err
}

// EncodeWords writes logical words to the stream, unchecked.
func (enc *Encoder) EncodeWords(words []uint32) error {
	for _, w := range words {
		enc.writeU32(w)
	}
	return enc.err
}

func (enc *Encoder) writeU32(v uint32) {
	if enc.err != nil {
		return
	}
	binary.BigEndian.PutUint32(enc.buf[:4], v)
	_, enc.err = enc.w.Write(enc.buf[:4])
}

// Decoder reads and validates events from a stream of big-endian 32-bit
// words. Not-valid-datum words found between events are skipped.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
}

// NewDecoder creates a decoder that reads and validates events from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 4),
	}
}

// Decode reads the next event from the stream.
// Decode returns io.EOF when the stream ends between events.
func (dec *Decoder) Decode(evt *Event) error {
	var w uint32
	for {
		w = dec.readU32()
		if dec.err != nil {
			if errors.Is(dec.err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("v792: could not read event header: %w", dec.err)
		}
		if KindOf(w) != KindInvalid {
			break
		}
	}

	hdr, err := DecodeHeader(w)
	if err != nil {
		return fmt.Errorf("v792: could not decode event header: %w", err)
	}

	evt.Header = hdr
	evt.Data = evt.Data[:0]
	for i := 0; i < int(hdr.Count); i++ {
		w := dec.readU32()
		if dec.err != nil {
			return fmt.Errorf("v792: could not read data word %d: %w", i, dec.unexpected())
		}
		d, err := DecodeDatum(w)
		if err != nil {
			return fmt.Errorf("v792: could not decode data word %d: %w", i, err)
		}
		evt.Data = append(evt.Data, d)
	}

	w = dec.readU32()
	if dec.err != nil {
		return fmt.Errorf("v792: could not read event trailer: %w", dec.unexpected())
	}
	evt.Trailer, err = DecodeTrailer(w)
	if err != nil {
		return fmt.Errorf("v792: could not decode event trailer: %w", err)
	}
	if evt.Trailer.Geo != hdr.Geo {
		return fmt.Errorf(
			"v792: trailer geo address %d does not match header geo address %d: %w",
			evt.Trailer.Geo, hdr.Geo, ErrProtocolDesync,
		)
	}
	return nil
}

func (dec *Decoder) unexpected() error {
	if errors.Is(dec.err, io.EOF) {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) readU32() uint32 {
	if dec.err != nil {
		return 0
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:4])
	return binary.BigEndian.Uint32(dec.buf[:4])
}
