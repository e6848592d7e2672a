// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portal

import (
	"fmt"
	"sync"
	"time"
)

// Statistics tracks frame traffic and error rates for one portal. It is safe
// for concurrent use; read it through Snapshot.
type Statistics struct {
	mu sync.Mutex
	Counters
}

// Counters is a point-in-time copy of the statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Outbound
	CommandsSent uint64
	WriteErrors  uint64
	WriteRetries uint64

	// Inbound
	TotalFrames     uint64
	StatusFrames    uint64
	QueryFrames     uint64
	UnknownFrames   uint64
	Timeouts        uint64
	ReadErrors      uint64
	StaleReplies    uint64
	Anomalies       uint64
	QueryMismatches uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{Counters: Counters{
		StartTime:      now,
		LastUpdateTime: now,
	}}
}

// RecordCommand counts a successfully sent command
func (s *Statistics) RecordCommand(Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommandsSent++
	s.LastUpdateTime = time.Now()
}

// RecordWriteError counts a command that could not be delivered
func (s *Statistics) RecordWriteError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteErrors++
}

// RecordWriteRetries counts repeated SET_REPORT attempts
func (s *Statistics) RecordWriteRetries(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteRetries += n
}

// RecordTimeout counts a read that returned no data
func (s *Statistics) RecordTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timeouts++
}

// RecordReadError counts a failed read
func (s *Statistics) RecordReadError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadErrors++
}

// RecordResponse counts a non-empty inbound frame by opcode
func (s *Statistics) RecordResponse(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalFrames++
	switch f.Opcode() {
	case RespStatus:
		s.StatusFrames++
	case RespQuery:
		s.QueryFrames++
	default:
		s.UnknownFrames++
	}
	s.LastUpdateTime = time.Now()
}

// RecordStaleReply counts a QUERY reply that answered a different request
func (s *Statistics) RecordStaleReply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StaleReplies++
}

// RecordQueryMismatch counts a query that exhausted its retries without a
// matching reply
func (s *Statistics) RecordQueryMismatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryMismatches++
}

// RecordAnomalies counts validation anomalies
func (s *Statistics) RecordAnomalies(errs []ValidationError) {
	if len(errs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Anomalies += uint64(len(errs))
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return s.Counters
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Counters.Errors()) / elapsed
	}
}

// Errors returns the total number of error events
func (c Counters) Errors() uint64 {
	return c.WriteErrors + c.ReadErrors + c.UnknownFrames + c.Anomalies + c.QueryMismatches
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var statusPercent, queryPercent, unknownPercent float64
	if snap.TotalFrames > 0 {
		statusPercent = float64(snap.StatusFrames) * 100.0 / float64(snap.TotalFrames)
		queryPercent = float64(snap.QueryFrames) * 100.0 / float64(snap.TotalFrames)
		unknownPercent = float64(snap.UnknownFrames) * 100.0 / float64(snap.TotalFrames)
	}

	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Commands Sent:   %8d\n", snap.CommandsSent)
	result += fmt.Sprintf("Frames Received: %8d\n", snap.TotalFrames)
	result += fmt.Sprintf("  Status:        %8d (%.1f%%)\n", snap.StatusFrames, statusPercent)
	result += fmt.Sprintf("  Query:         %8d (%.1f%%)\n", snap.QueryFrames, queryPercent)

	if snap.UnknownFrames > 0 {
		result += fmt.Sprintf("  Unknown:       %8d (%.1f%%)\n", snap.UnknownFrames, unknownPercent)
	}
	result += fmt.Sprintf("Read Timeouts:   %8d\n", snap.Timeouts)
	if snap.ReadErrors > 0 {
		result += fmt.Sprintf("Read Errors:     %8d\n", snap.ReadErrors)
	}
	if snap.WriteErrors > 0 {
		result += fmt.Sprintf("Write Errors:    %8d\n", snap.WriteErrors)
	}
	if snap.WriteRetries > 0 {
		result += fmt.Sprintf("Write Retries:   %8d\n", snap.WriteRetries)
	}
	if snap.StaleReplies > 0 {
		result += fmt.Sprintf("Stale Replies:   %8d\n", snap.StaleReplies)
	}
	if snap.QueryMismatches > 0 {
		result += fmt.Sprintf("Query Misses:    %8d\n", snap.QueryMismatches)
	}
	if snap.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", snap.Anomalies)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", snap.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.Counters = Counters{
		StartTime:      now,
		LastUpdateTime: now,
	}
}
