// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// CBOREncoder writes a CBOR sequence (RFC 8742), one map per record.
// Times are RFC 3339 strings.
type CBOREncoder struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCBOREncoder creates a CBOR sequence encoder
func NewCBOREncoder(w io.Writer) (*CBOREncoder, error) {
	em, err := cbor.EncOptions{
		Time: cbor.TimeRFC3339Nano,
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	return &CBOREncoder{enc: em.NewEncoder(w)}, nil
}

// Encode writes one record
func (e *CBOREncoder) Encode(rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(rec)
}

// DecodeCBOR reads every record of a CBOR sequence
func DecodeCBOR(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
