// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONEncoder writes one JSON object per line
type JSONEncoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONEncoder creates a JSON lines encoder
func NewJSONEncoder(w io.Writer) *JSONEncoder {
	return &JSONEncoder{enc: json.NewEncoder(w)}
}

// Encode writes one record
func (e *JSONEncoder) Encode(rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(rec)
}
