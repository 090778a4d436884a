// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"fmt"
	"io"
)

// Event is a decoded output buffer event.
type Event struct {
	Header  Header
	Data    []Datum
	Trailer Trailer
}

// AppendWords appends the logical words of the event to dst.
// The header word count is taken from the number of data words.
func (evt Event) AppendWords(dst []uint32) []uint32 {
	hdr := evt.Header
	hdr.Count = uint8(len(evt.Data))
	dst = append(dst, hdr.Word())
	for _, d := range evt.Data {
		dst = append(dst, d.Word())
	}
	return append(dst, evt.Trailer.Word())
}

// DecodeEvent decodes the event starting at words[0], and returns the
// number of words it spans. Words are logical words.
func DecodeEvent(evt *Event, words []uint32) (int, error) {
	if len(words) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	hdr, err := DecodeHeader(words[0])
	if err != nil {
		return 0, err
	}
	n := int(hdr.Count)
	if len(words) < n+2 {
		return 0, fmt.Errorf("v792: event of %d words truncated to %d words: %w", n+2, len(words), io.ErrUnexpectedEOF)
	}

	evt.Header = hdr
	evt.Data = evt.Data[:0]
	for i, w := range words[1 : n+1] {
		d, err := DecodeDatum(w)
		if err != nil {
			return 0, fmt.Errorf("v792: invalid data word %d: %w", i, err)
		}
		evt.Data = append(evt.Data, d)
	}
	evt.Trailer, err = DecodeTrailer(words[n+1])
	if err != nil {
		return 0, err
	}
	return n + 2, nil
}
