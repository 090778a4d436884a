// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"golang.org/x/xerrors"
)

func TestStream(t *testing.T) {
	evts := []Event{
		{
			Header: Header{Geo: 2, Crate: 1},
			Data: []Datum{
				{Geo: 2, Channel: 0, Value: 12},
				{Geo: 2, Channel: 31, Value: 0xfff, Overflow: true},
			},
			Trailer: Trailer{Geo: 2, Seq: 41},
		},
		{
			Header:  Header{Geo: 2, Crate: 1},
			Trailer: Trailer{Geo: 2, Seq: 42},
		},
	}

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	for i := range evts {
		err := enc.Encode(&evts[i])
		if err != nil {
			t.Fatalf("could not encode event %d: %+v", i, err)
		}
		// filler words between events are ignored.
		err = enc.EncodeWords([]uint32{tagInvalid, tagInvalid | 2<<geoShift})
		if err != nil {
			t.Fatalf("could not encode filler: %+v", err)
		}
	}
	if got, want := buf.Len(), 4*(4+2+2+2); got != want {
		t.Fatalf("invalid stream size: got=%d, want=%d", got, want)
	}

	dec := NewDecoder(buf)
	for i := range evts {
		var got Event
		err := dec.Decode(&got)
		if err != nil {
			t.Fatalf("could not decode event %d: %+v", i, err)
		}
		want := evts[i]
		want.Header.Count = uint8(len(want.Data))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid event %d:\ngot= %+v\nwant=%+v", i, got, want)
		}
	}

	var evt Event
	err := dec.Decode(&evt)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.EOF)
	}
}

func TestStreamErrors(t *testing.T) {
	hdr := Header{Geo: 2, Count: 1}.Word()
	datum := Datum{Geo: 2, Channel: 1}.Word()
	tlr := Trailer{Geo: 2, Seq: 1}.Word()

	for _, tc := range []struct {
		name  string
		words []uint32
		tail  []byte
		want  error
		msg   error
	}{
		{name: "no-header", words: []uint32{datum}, want: ErrProtocolDesync},
		{name: "no-trailer", words: []uint32{hdr, datum, datum}, want: ErrProtocolDesync},
		{name: "bad-datum", words: []uint32{hdr, tlr}, want: ErrProtocolDesync},
		{
			name:  "geo-mismatch",
			words: []uint32{hdr, datum, Trailer{Geo: 3}.Word()},
			want:  ErrProtocolDesync,
			msg:   xerrors.Errorf("v792: trailer geo address 3 does not match header geo address 2: %w", ErrProtocolDesync),
		},
		{
			name:  "truncated-event",
			words: []uint32{hdr, datum},
			want:  io.ErrUnexpectedEOF,
			msg:   xerrors.Errorf("v792: could not read event trailer: %w", io.ErrUnexpectedEOF),
		},
		{
			name:  "truncated-word",
			words: []uint32{hdr},
			tail:  []byte{1, 2},
			want:  io.ErrUnexpectedEOF,
			msg:   xerrors.Errorf("v792: could not read data word 0: %w", io.ErrUnexpectedEOF),
		},
		{
			name: "truncated-header",
			tail: []byte{1, 2, 3},
			want: io.ErrUnexpectedEOF,
			msg:  xerrors.Errorf("v792: could not read event header: %w", io.ErrUnexpectedEOF),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := NewEncoder(buf).EncodeWords(tc.words)
			if err != nil {
				t.Fatalf("could not encode words: %+v", err)
			}
			buf.Write(tc.tail)

			var evt Event
			err = NewDecoder(buf).Decode(&evt)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.want)
			}
			if tc.msg != nil && err.Error() != tc.msg.Error() {
				t.Fatalf("invalid error message:\ngot= %q\nwant=%q", err, tc.msg)
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	evt := Event{
		Header:  Header{Geo: 4, Crate: 2},
		Data:    []Datum{{Geo: 4, Channel: 3, Value: 33}},
		Trailer: Trailer{Geo: 4, Seq: 7},
	}
	words := evt.AppendWords(nil)
	words = append(words, tagInvalid)

	var got Event
	n, err := DecodeEvent(&got, words)
	if err != nil {
		t.Fatalf("could not decode event: %+v", err)
	}
	if n != 3 {
		t.Fatalf("invalid number of words: got=%d, want=3", n)
	}
	evt.Header.Count = 1
	if !reflect.DeepEqual(got, evt) {
		t.Fatalf("invalid event:\ngot= %+v\nwant=%+v", got, evt)
	}

	_, err = DecodeEvent(&got, words[:2])
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.ErrUnexpectedEOF)
	}
	_, err = DecodeEvent(&got, nil)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.ErrUnexpectedEOF)
	}
}
