// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/go-lpc/qdc/v792"
)

func TestRecordRW(t *testing.T) {
	var (
		e1 = event(2, 10, v792.Datum{Channel: 0, Value: 1}, v792.Datum{Channel: 1, Value: 2})
		e2 = event(3, 11)
		e3 = event(2, 12, v792.Datum{Channel: 5, Value: 0xfff, Overflow: true})
	)

	recs := []Record{
		{Trigger: 1, Words: e1.AppendWords(nil)},
		{Trigger: 2, Words: append(e2.AppendWords([]uint32{MarkerBad}), 0x06000000)},
		{Trigger: 3},
		{Trigger: 4, Words: e3.AppendWords(nil)},
	}

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	for i := range recs {
		err := enc.Encode(&recs[i])
		if err != nil {
			t.Fatalf("could not encode record %d: %+v", i, err)
		}
	}

	raw, err := recs[0].MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal record: %+v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), raw) {
		t.Fatalf("marshaled record does not match encoded one")
	}
	if got, want := binary.BigEndian.Uint32(raw[len(raw)-4:]), uint32(MarkerEOB); got != want {
		t.Fatalf("invalid end of record: got=0x%08x, want=0x%08x", got, want)
	}

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	for i, want := range recs {
		var got Record
		err := dec.Decode(&got)
		if err != nil {
			t.Fatalf("could not decode record %d: %+v", i, err)
		}
		if len(want.Words) == 0 {
			want.Words = nil
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid record %d:\ngot= %+v\nwant=%+v", i, got, want)
		}
	}
	var rec Record
	err = dec.Decode(&rec)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, io.EOF)
	}

	evts, bad, err := recs[1].Events()
	if err != nil {
		t.Fatalf("could not decode events: %+v", err)
	}
	if bad != 1 {
		t.Fatalf("invalid number of bad modules: got=%d, want=1", bad)
	}
	if !reflect.DeepEqual(evts, []v792.Event{e2}) {
		t.Fatalf("invalid events:\ngot= %+v\nwant=%+v", evts, []v792.Event{e2})
	}

	out := new(bytes.Buffer)
	err = Convert(v792.NewEncoder(out), NewDecoder(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("could not convert records: %+v", err)
	}
	vdec := v792.NewDecoder(out)
	for i, want := range []v792.Event{e1, e2, e3} {
		var got v792.Event
		err := vdec.Decode(&got)
		if err != nil {
			t.Fatalf("could not decode event %d: %+v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid event %d:\ngot= %+v\nwant=%+v", i, got, want)
		}
	}
}

func TestRecordErrors(t *testing.T) {
	rec := Record{Trigger: 1, Words: event(2, 1, v792.Datum{Value: 3}).AppendWords(nil)}
	raw, err := rec.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal record: %+v", err)
	}

	for _, tc := range []struct {
		name string
		raw  []byte
		max  int
		want error
	}{
		{
			name: "short-trigger",
			raw:  raw[:2],
			want: io.ErrUnexpectedEOF,
		},
		{
			name: "no-eob",
			raw:  raw[:len(raw)-4],
			want: io.ErrUnexpectedEOF,
		},
		{
			name: "too-long",
			raw:  raw,
			max:  2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dec := NewDecoder(bytes.NewReader(tc.raw))
			if tc.max > 0 {
				dec.Max = tc.max
			}
			var got Record
			err := dec.Decode(&got)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
		})
	}

	// truncated event.
	rec.Words = rec.Words[:2]
	_, _, err = rec.Events()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, io.ErrUnexpectedEOF)
	}
}

func TestRecordUnmarshal(t *testing.T) {
	want := Record{Trigger: 3, Words: []uint32{MarkerBad, 0x06000000}}
	raw, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal record: %+v", err)
	}

	var got Record
	err = got.UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("could not unmarshal record: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid record:\ngot= %+v\nwant=%+v", got, want)
	}

	for _, tc := range []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "odd", raw: raw[:5]},
		{name: "no-eob", raw: raw[:len(raw)-4]},
		{name: "trailing", raw: append(append([]byte(nil), raw...), 0, 0, 0, 1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var rec Record
			err := rec.UnmarshalBinary(tc.raw)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
