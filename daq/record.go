// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/qdc/v792"
)

// Record holds the words read out for a single trigger.
//
// On disk and on the wire, a record is the trigger number followed by the
// module words and by MarkerEOB, as big-endian 32-bit words.
type Record struct {
	Trigger uint32
	Words   []uint32 // module words, including MarkerBad words
}

// AppendWords appends the framed record to dst.
func (rec *Record) AppendWords(dst []uint32) []uint32 {
	dst = append(dst, rec.Trigger)
	dst = append(dst, rec.Words...)
	return append(dst, MarkerEOB)
}

// MarshalBinary returns the framed record as big-endian bytes.
func (rec *Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4*(len(rec.Words)+2))
	binary.BigEndian.PutUint32(buf, rec.Trigger)
	for i, w := range rec.Words {
		binary.BigEndian.PutUint32(buf[4*(i+1):], w)
	}
	binary.BigEndian.PutUint32(buf[len(buf)-4:], MarkerEOB)
	return buf, nil
}

// UnmarshalBinary decodes a single framed record from data.
func (rec *Record) UnmarshalBinary(data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("daq: invalid record size %d", len(data))
	}
	r := bytes.NewReader(data)
	dec := NewDecoder(r)
	dec.Max = len(data) / 4
	err := dec.Decode(rec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("daq: trailing bytes after record of trigger %d", rec.Trigger)
	}
	return nil
}

// Events decodes the module events held by the record.
// It also returns the number of modules flagged with MarkerBad.
func (rec *Record) Events() ([]v792.Event, int, error) {
	var (
		evts []v792.Event
		bad  int
	)
	for i := 0; i < len(rec.Words); {
		w := rec.Words[i]
		switch {
		case w == MarkerBad:
			bad++
			i++
			continue
		case v792.KindOf(w) == v792.KindInvalid:
			i++
			continue
		}
		var evt v792.Event
		n, err := v792.DecodeEvent(&evt, rec.Words[i:])
		if err != nil {
			return evts, bad, fmt.Errorf("daq: could not decode event of trigger %d at word %d: %w", rec.Trigger, i, err)
		}
		evts = append(evts, evt)
		i += n
	}
	return evts, bad, nil
}

// Encoder writes records to an output stream.
type Encoder struct {
	enc *v792.Encoder
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: v792.NewEncoder(w)}
}

// Encode writes the record to the stream.
func (enc *Encoder) Encode(rec *Record) error {
	err := enc.enc.EncodeWords([]uint32{rec.Trigger})
	if err != nil {
		return err
	}
	err = enc.enc.EncodeWords(rec.Words)
	if err != nil {
		return err
	}
	return enc.enc.EncodeWords([]uint32{MarkerEOB})
}

// Decoder reads records from an input stream.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error

	// Max is the maximum number of module words of a record.
	Max int
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 4),
		Max: v792.MaxModules * 512,
	}
}

// Decode reads the next record from the stream.
// Decode returns io.EOF when the stream ends between records.
func (dec *Decoder) Decode(rec *Record) error {
	rec.Trigger = dec.readU32()
	if dec.err != nil {
		if errors.Is(dec.err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("daq: could not read trigger number: %w", dec.err)
	}

	rec.Words = rec.Words[:0]
	for {
		w := dec.readU32()
		if dec.err != nil {
			if errors.Is(dec.err, io.EOF) {
				dec.err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("daq: could not read record of trigger %d: %w", rec.Trigger, dec.err)
		}
		if w == MarkerEOB {
			return nil
		}
		if len(rec.Words) >= dec.Max {
			return fmt.Errorf("daq: record of trigger %d exceeds %d words", rec.Trigger, dec.Max)
		}
		rec.Words = append(rec.Words, w)
	}
}

func (dec *Decoder) readU32() uint32 {
	if dec.err != nil {
		return 0
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf)
	if dec.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(dec.buf)
}

// Convert re-encodes the module events of the records read from dec as a
// raw V792 event stream.
func Convert(enc *v792.Encoder, dec *Decoder) error {
	var rec Record
	for {
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		evts, _, err := rec.Events()
		if err != nil {
			return err
		}
		for i := range evts {
			err = enc.Encode(&evts[i])
			if err != nil {
				return fmt.Errorf("daq: could not encode event: %w", err)
			}
		}
	}
}
