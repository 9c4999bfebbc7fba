// Package storekeys implements the key codec of spec.md §4.2: a single
// ordered byte-key space shared by the journal, state, workflow metadata,
// status index and timer namespaces, plus the supplemental cron-schedule
// namespace from SPEC_FULL.md. Big-endian numeric encoding keeps lexical
// order equal to numeric order for sequence numbers and wake times.
package storekeys

import (
	"encoding/binary"
	"fmt"
)

const (
	journalPrefix  = "J/"
	statePrefix    = "S/"
	workflowPrefix = "W/"
	statusPrefix   = "X/"
	timerPrefix    = "T/"
	schedulePrefix = "C/"
)

// EncodeUint64 big-endian encodes n so lexicographic byte order matches
// numeric order.
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// DecodeUint64 reverses EncodeUint64.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("storekeys: expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Journal returns J/<workflowId>/<seq-big-endian-u64>.
func Journal(workflowID string, seq uint64) []byte {
	key := append([]byte(journalPrefix), []byte(workflowID)...)
	key = append(key, '/')
	return append(key, EncodeUint64(seq)...)
}

// JournalPrefix returns J/<workflowId>/ for prefix scans over one workflow's
// journal.
func JournalPrefix(workflowID string) []byte {
	key := append([]byte(journalPrefix), []byte(workflowID)...)
	return append(key, '/')
}

// JournalSeqFromKey extracts the sequence number from a key produced by
// Journal, given the matching workflow id.
func JournalSeqFromKey(key []byte, workflowID string) (uint64, error) {
	prefix := JournalPrefix(workflowID)
	if len(key) <= len(prefix) {
		return 0, fmt.Errorf("storekeys: malformed journal key %q", key)
	}
	return DecodeUint64(key[len(prefix):])
}

// State returns S/<workflowId>/<stateKey>.
func State(workflowID, stateKey string) []byte {
	key := append([]byte(statePrefix), []byte(workflowID)...)
	key = append(key, '/')
	return append(key, []byte(stateKey)...)
}

// StatePrefix returns S/<workflowId>/ for deleteAll.
func StatePrefix(workflowID string) []byte {
	key := append([]byte(statePrefix), []byte(workflowID)...)
	return append(key, '/')
}

// Workflow returns W/<workflowId>.
func Workflow(workflowID string) []byte {
	return append([]byte(workflowPrefix), []byte(workflowID)...)
}

// Status returns X/<statusName>/<workflowId>.
func Status(status, workflowID string) []byte {
	key := append([]byte(statusPrefix), []byte(status)...)
	key = append(key, '/')
	return append(key, []byte(workflowID)...)
}

// StatusPrefix returns X/<statusName>/ for findByStatus scans.
func StatusPrefix(status string) []byte {
	key := append([]byte(statusPrefix), []byte(status)...)
	return append(key, '/')
}

// WorkflowIDFromStatusKey extracts the workflow id suffix from a key
// produced by Status, given the matching status name.
func WorkflowIDFromStatusKey(key []byte, status string) (string, error) {
	prefix := StatusPrefix(status)
	if len(key) <= len(prefix) {
		return "", fmt.Errorf("storekeys: malformed status key %q", key)
	}
	return string(key[len(prefix):]), nil
}

// Timer returns T/<wakeTime-big-endian-u64>/<timerId>.
func Timer(wakeTimeUnixNano int64, timerID string) []byte {
	key := append([]byte(timerPrefix), EncodeUint64(uint64(wakeTimeUnixNano))...)
	key = append(key, '/')
	return append(key, []byte(timerID)...)
}

// TimerScanUpperBound returns the exclusive end key for findReady(now):
// every timer row with wakeTime <= now.
func TimerScanUpperBound(nowUnixNano int64) []byte {
	key := append([]byte(timerPrefix), EncodeUint64(uint64(nowUnixNano+1))...)
	return key
}

// TimerPrefixStart is the inclusive start of the timer namespace.
func TimerPrefixStart() []byte {
	return []byte(timerPrefix)
}

// Schedule returns C/<scheduleId>, the supplemental cron-schedule namespace.
func Schedule(scheduleID string) []byte {
	return append([]byte(schedulePrefix), []byte(scheduleID)...)
}

// SchedulePrefix is the inclusive start of the schedule namespace, for
// listing all schedules.
func SchedulePrefix() []byte {
	return []byte(schedulePrefix)
}
