// Package share defines the wire representation of a submitted mining share
// and the (userId, workerId) key that identifies its worker.
package share

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tos-network/statsserver/internal/util"
)

// Result classifies the outcome of a share submission.
type Result uint32

const (
	ResultAccept Result = 0
	ResultReject Result = 1
	// Reject subcodes, kept distinct from ResultReject so a future consumer
	// can break down rejects by cause without changing the wire layout.
	ResultRejectStale     Result = 2
	ResultRejectDuplicate Result = 3
	ResultRejectLowDiff   Result = 4
)

// IsAccept reports whether the result counts toward the accept windows.
func (r Result) IsAccept() bool {
	return r == ResultAccept
}

// RecordSize is the fixed on-disk size of a Share record, in bytes.
const RecordSize = 48

// Share is one submitted proof-of-work attempt. Field order and widths are a
// compatibility contract with previously-written sharelog files (§6) and
// MUST NOT change without a format version bump.
type Share struct {
	JobID      uint64
	WorkerID   int64
	UserID     int32
	IP         uint32 // IPv4, host order
	ShareValue uint64 // weight
	Timestamp  uint32 // unix seconds
	Result     Result
	BlockBits  uint32 // compact target representation
	Diff       uint64 // stored on disk as a uint32; Encode rejects larger values
}

// Key returns the WorkerKey this share belongs to.
func (s *Share) Key() WorkerKey {
	return WorkerKey{UserID: s.UserID, WorkerID: s.WorkerID}
}

// Score is a deterministic, difficulty-weighted valuation of an accepted
// share. Rejected shares score zero. The core treats this as given; how it's
// computed is an implementation detail confined to this file.
func (s *Share) Score() float64 {
	if !s.Result.IsAccept() || s.Diff == 0 {
		return 0
	}
	target := util.DifficultyToTarget(s.Diff)
	return util.TargetToDifficultyF(target)
}

// Encode writes the 48-byte little-endian record for s into buf, which must
// be at least RecordSize bytes.
func (s *Share) Encode(buf []byte) error {
	if len(buf) < RecordSize {
		return fmt.Errorf("share: encode buffer too small: %d < %d", len(buf), RecordSize)
	}
	if s.Diff > math.MaxUint32 {
		return fmt.Errorf("share: diff %d does not fit the 32-bit record field", s.Diff)
	}
	binary.LittleEndian.PutUint64(buf[0:8], s.JobID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.WorkerID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(s.UserID))
	binary.LittleEndian.PutUint32(buf[20:24], s.IP)
	binary.LittleEndian.PutUint64(buf[24:32], s.ShareValue)
	binary.LittleEndian.PutUint32(buf[32:36], s.Timestamp)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(s.Result))
	binary.LittleEndian.PutUint32(buf[40:44], s.BlockBits)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(s.Diff))
	return nil
}

// Decode parses a 48-byte little-endian record from buf into s.
func Decode(buf []byte) (*Share, error) {
	if len(buf) < RecordSize {
		return nil, fmt.Errorf("share: decode buffer too small: %d < %d", len(buf), RecordSize)
	}
	s := &Share{
		JobID:      binary.LittleEndian.Uint64(buf[0:8]),
		WorkerID:   int64(binary.LittleEndian.Uint64(buf[8:16])),
		UserID:     int32(binary.LittleEndian.Uint32(buf[16:20])),
		IP:         binary.LittleEndian.Uint32(buf[20:24]),
		ShareValue: binary.LittleEndian.Uint64(buf[24:32]),
		Timestamp:  binary.LittleEndian.Uint32(buf[32:36]),
		Result:     Result(binary.LittleEndian.Uint32(buf[36:40])),
		BlockBits:  binary.LittleEndian.Uint32(buf[40:44]),
		Diff:       uint64(binary.LittleEndian.Uint32(buf[44:48])),
	}
	return s, nil
}

// WorkerKey identifies a worker by (userId, workerId). Miners that submit
// under identical user/worker names from different machines intentionally
// collapse to one key.
type WorkerKey struct {
	UserID   int32
	WorkerID int64
}

func (k WorkerKey) String() string {
	return fmt.Sprintf("%d.%d", k.UserID, k.WorkerID)
}
