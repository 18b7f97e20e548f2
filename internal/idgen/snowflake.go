// Package idgen allocates distributed, roughly time-ordered numeric ids.
//
// Layout of a 64-bit id, most significant bits first:
//
//	| 41 bits ms since epoch | 5 bits datacenter | 5 bits worker | 12 bits sequence |
package idgen

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/devrev/paracore/internal/errors"
	"go.uber.org/zap"
)

const (
	SequenceBits   = 12
	WorkerBits     = 5
	DatacenterBits = 5

	MaxSequence     = -1 ^ (-1 << SequenceBits)
	MaxWorkerID     = -1 ^ (-1 << WorkerBits)
	MaxDatacenterID = -1 ^ (-1 << DatacenterBits)

	workerShift     = SequenceBits
	datacenterShift = SequenceBits + WorkerBits
	timestampShift  = SequenceBits + WorkerBits + DatacenterBits

	// DefaultEpoch is the millisecond offset subtracted from the clock
	DefaultEpoch int64 = 1310084584692
)

// Config holds generator identity
type Config struct {
	WorkerID     int64
	DatacenterID int64
	Epoch        int64
}

// Generator issues ids. The sequence and last timestamp are shared by all callers and
// guarded by a single mutex.
type Generator struct {
	mu            sync.Mutex
	workerID      int64
	datacenterID  int64
	epoch         int64
	sequence      int64
	lastTimestamp int64
	now           func() time.Time
	logger        *zap.Logger
}

// Parts are the decoded fields of an id
type Parts struct {
	Timestamp    int64 // ms since the unix epoch
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// NewGenerator creates a generator. A worker id outside [0, MaxWorkerID] is replaced by
// a random one in range; an invalid datacenter id falls back to 0.
func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	workerID := cfg.WorkerID
	if workerID < 0 || workerID > MaxWorkerID {
		workerID = rand.Int64N(MaxWorkerID + 1)
		logger.Warn("Configured worker id out of range, using random worker id",
			zap.Int64("configured", cfg.WorkerID),
			zap.Int64("worker_id", workerID))
	}
	datacenterID := cfg.DatacenterID
	if datacenterID < 0 || datacenterID > MaxDatacenterID {
		logger.Warn("Configured datacenter id out of range, using 0",
			zap.Int64("configured", cfg.DatacenterID))
		datacenterID = 0
	}
	epoch := cfg.Epoch
	if epoch <= 0 {
		epoch = DefaultEpoch
	}

	return &Generator{
		workerID:      workerID,
		datacenterID:  datacenterID,
		epoch:         epoch,
		lastTimestamp: -1,
		now:           time.Now,
		logger:        logger,
	}
}

// WorkerID returns the effective worker id
func (g *Generator) WorkerID() int64 { return g.workerID }

// DatacenterID returns the effective datacenter id
func (g *Generator) DatacenterID() int64 { return g.datacenterID }

// NextID returns the next id as a decimal string
func (g *Generator) NextID() (string, error) {
	id, err := g.Next()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Next returns the next id. It fails if the clock moved backwards since the last
// issued id; no id is issued in that case.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.millis()
	if ts < g.lastTimestamp {
		g.logger.Error("Clock moved backwards, refusing to issue id",
			zap.Int64("last_timestamp", g.lastTimestamp),
			zap.Int64("now", ts))
		return 0, errors.ClockMovedBackwards(g.lastTimestamp, ts)
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & MaxSequence
		if g.sequence == 0 {
			ts = g.waitNextMillis(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	return ((ts - g.epoch) << timestampShift) |
		(g.datacenterID << datacenterShift) |
		(g.workerID << workerShift) |
		g.sequence, nil
}

// Decompose splits an id issued by this generator into its fields
func (g *Generator) Decompose(id int64) Parts {
	return Parts{
		Timestamp:    (id >> timestampShift) + g.epoch,
		DatacenterID: (id >> datacenterShift) & MaxDatacenterID,
		WorkerID:     (id >> workerShift) & MaxWorkerID,
		Sequence:     id & MaxSequence,
	}
}

func (g *Generator) waitNextMillis(last int64) int64 {
	ts := g.millis()
	for ts <= last {
		ts = g.millis()
	}
	return ts
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}
