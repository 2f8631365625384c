package datalog

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nominal-io/nominal-api-go/api/rids"
	"github.com/nominal-io/nominal-api-go/io/nominal/api"
	writerapi "github.com/nominal-io/nominal-api-go/storage/writer/api"
	"github.com/palantir/pkg/safelong"
)

// BackpressurePolicy decides what happens to a batch that cannot be flushed
// because the maximum number of concurrent flushes is in flight.
type BackpressurePolicy int

const (
	// BackpressureRequeue puts the batch back into the buffers for the next flush.
	BackpressureRequeue BackpressurePolicy = iota
	// BackpressureDropBatch discards the batch.
	BackpressureDropBatch
)

func (p BackpressurePolicy) String() string {
	switch p {
	case BackpressureRequeue:
		return "Requeue"
	case BackpressureDropBatch:
		return "DropBatch"
	default:
		return fmt.Sprintf("BackpressurePolicy(%d)", int(p))
	}
}

const (
	defaultFlushSize            = 65_536
	defaultFlushPeriod          = 500 * time.Millisecond
	defaultMaxConcurrentFlushes = 10
	defaultMaxBufferPoints      = 1_000_000
	defaultErrorBuffer          = 256
)

type pointWithArgs struct {
	message string
	args    map[string]string
}

type pointBatch struct {
	Channel    string
	Timestamps []NanosecondsUTC
	Values     []pointWithArgs
}

type pointBuffer struct {
	channel    string
	timestamps []NanosecondsUTC
	values     []pointWithArgs
}

type uplinkBatcher struct {
	closeChan   chan struct{}
	wg          sync.WaitGroup
	flushSize   int
	flushPeriod time.Duration

	// Error handling
	errorsMu     sync.Mutex
	errors       chan error
	closed       bool
	errorsClosed bool

	// Concurrency control for flush goroutines
	maxConcurrentFlushes int
	flushSem             chan struct{}

	// Backpressure handling
	backpressurePolicy BackpressurePolicy
	maxBufferPoints    int

	ctx        context.Context
	writer     LogWriter
	datasetRID rids.NominalDataSourceOrDatasetRid

	mu          sync.Mutex
	buffers     map[string]*pointBuffer
	totalPoints int
}

func newUplinkBatcher(
	ctx context.Context,
	writer LogWriter,
	datasetRID rids.NominalDataSourceOrDatasetRid,
) *uplinkBatcher {
	return &uplinkBatcher{
		closeChan:            make(chan struct{}),
		flushSize:            defaultFlushSize,
		flushPeriod:          defaultFlushPeriod,
		errors:               make(chan error, defaultErrorBuffer),
		maxConcurrentFlushes: defaultMaxConcurrentFlushes,
		flushSem:             make(chan struct{}, defaultMaxConcurrentFlushes),
		backpressurePolicy:   BackpressureRequeue,
		maxBufferPoints:      defaultMaxBufferPoints,
		ctx:                  ctx,
		writer:               writer,
		datasetRID:           datasetRID,
		buffers:              make(map[string]*pointBuffer),
	}
}

func (b *uplinkBatcher) start() {
	b.wg.Add(1)
	go b.run()
}

func (b *uplinkBatcher) isClosed() bool {
	b.errorsMu.Lock()
	defer b.errorsMu.Unlock()
	return b.closed
}

func (b *uplinkBatcher) close() error {
	b.errorsMu.Lock()
	if b.closed {
		b.errorsMu.Unlock()
		return nil
	}
	b.closed = true
	b.errorsMu.Unlock()

	close(b.closeChan)
	b.wg.Wait()

	b.errorsMu.Lock()
	close(b.errors)
	b.errorsClosed = true
	b.errorsMu.Unlock()

	return nil
}

// reportError sends an error to the errors channel without blocking.
// If the channel is full, the oldest error is dropped to make room.
// Flush goroutines may outlive run(), so errorsMu guards against sending on
// a closed channel.
func (b *uplinkBatcher) reportError(err error) {
	b.errorsMu.Lock()
	defer b.errorsMu.Unlock()

	if b.errorsClosed {
		return
	}

	select {
	case b.errors <- err:
		return
	default:
	}

	select {
	case oldErr := <-b.errors:
		log.Printf("datalog: dropped uplink error (buffer full): %v", oldErr)
	default:
	}

	select {
	case b.errors <- err:
	default:
		log.Printf("datalog: dropped uplink error (buffer full): %v", err)
	}
}

func (b *uplinkBatcher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.closeChan:
			b.flushFinal()
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *uplinkBatcher) add(channel string, timestamp NanosecondsUTC, message string, args map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buffer, exists := b.buffers[channel]
	if !exists {
		buffer = &pointBuffer{
			channel:    channel,
			timestamps: make([]NanosecondsUTC, 0),
			values:     make([]pointWithArgs, 0),
		}
		b.buffers[channel] = buffer
	}

	buffer.timestamps = append(buffer.timestamps, timestamp)
	buffer.values = append(buffer.values, pointWithArgs{
		message: message,
		args:    args,
	})
	b.totalPoints++

	if b.totalPoints >= b.flushSize {
		b.flushLocked()
	}
}

func (b *uplinkBatcher) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// flushFinal sends whatever is buffered on close, waiting for a flush slot
// instead of applying the backpressure policy.
func (b *uplinkBatcher) flushFinal() {
	b.mu.Lock()
	batches := b.takeBatchesLocked()
	b.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	b.flushSem <- struct{}{}
	defer func() { <-b.flushSem }()
	if err := b.send(batches); err != nil {
		b.reportError(err)
	}
}

// takeBatchesLocked moves buffered points into batches.
// Note: caller must hold b.mu lock.
func (b *uplinkBatcher) takeBatchesLocked() []pointBatch {
	if b.totalPoints == 0 {
		return nil
	}

	batches := make([]pointBatch, 0, len(b.buffers))
	for _, buffer := range b.buffers {
		if len(buffer.timestamps) > 0 {
			batches = append(batches, pointBatch{
				Channel:    buffer.channel,
				Timestamps: buffer.timestamps,
				Values:     buffer.values,
			})
			buffer.timestamps = make([]NanosecondsUTC, 0)
			buffer.values = make([]pointWithArgs, 0)
		}
	}

	b.totalPoints = 0
	return batches
}

func (b *uplinkBatcher) flushLocked() {
	batches := b.takeBatchesLocked()
	if len(batches) == 0 {
		return
	}

	// Non-blocking to avoid deadlock while holding mu
	select {
	case b.flushSem <- struct{}{}:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() { <-b.flushSem }()
			if err := b.send(batches); err != nil {
				b.reportError(err)
			}
		}()
	default:
		batchPoints := countBatchPoints(batches)

		switch b.backpressurePolicy {
		case BackpressureDropBatch:
			log.Printf("datalog: uplink flush skipped due to backpressure, dropped batch of %d points (policy: %s)", batchPoints, b.backpressurePolicy)

		case BackpressureRequeue:
			fallthrough
		default:
			log.Printf("datalog: uplink flush skipped due to backpressure (%d concurrent flushes), re-queued %d points", b.maxConcurrentFlushes, batchPoints)
			b.reAddBatchesLocked(batches)
			b.enforceBufferLimitLocked()
		}
	}
}

// send writes batches and requeues them if the failure is retryable.
func (b *uplinkBatcher) send(batches []pointBatch) error {
	err := b.sendBatches(batches)
	if err == nil {
		return nil
	}

	if IsRetryable(err) && !b.isClosed() {
		b.mu.Lock()
		b.reAddBatchesLocked(batches)
		b.enforceBufferLimitLocked()
		b.mu.Unlock()
	}
	return err
}

func countBatchPoints(batches []pointBatch) int {
	total := 0
	for _, b := range batches {
		total += len(b.Timestamps)
	}
	return total
}

// reAddBatchesLocked puts batches back in front of newer buffered points.
// Note: caller must hold b.mu lock.
func (b *uplinkBatcher) reAddBatchesLocked(batches []pointBatch) {
	for _, batch := range batches {
		buffer, exists := b.buffers[batch.Channel]
		if !exists {
			buffer = &pointBuffer{
				channel:    batch.Channel,
				timestamps: make([]NanosecondsUTC, 0),
				values:     make([]pointWithArgs, 0),
			}
			b.buffers[batch.Channel] = buffer
		}
		buffer.timestamps = append(batch.Timestamps, buffer.timestamps...)
		buffer.values = append(batch.Values, buffer.values...)
		b.totalPoints += len(batch.Timestamps)
	}
}

// enforceBufferLimitLocked drops the oldest points when the buffer exceeds maxBufferPoints.
// Note: caller must hold b.mu lock.
func (b *uplinkBatcher) enforceBufferLimitLocked() {
	if b.maxBufferPoints <= 0 || b.totalPoints <= b.maxBufferPoints {
		return
	}

	pointsToDrop := b.totalPoints - b.maxBufferPoints
	droppedPoints := 0

	for channel, buffer := range b.buffers {
		if pointsToDrop <= 0 {
			break
		}
		if len(buffer.timestamps) > 0 {
			toDrop := min(len(buffer.timestamps), pointsToDrop)
			buffer.timestamps = buffer.timestamps[toDrop:]
			buffer.values = buffer.values[toDrop:]
			pointsToDrop -= toDrop
			droppedPoints += toDrop
			b.totalPoints -= toDrop
			if len(buffer.timestamps) == 0 {
				delete(b.buffers, channel)
			}
		}
	}

	if droppedPoints > 0 {
		log.Printf("datalog: uplink buffer limit exceeded (%d points), dropped %d oldest points", b.maxBufferPoints, droppedPoints)
	}
}

func (b *uplinkBatcher) sendBatches(batches []pointBatch) error {
	req, err := buildWriteLogsRequest(batches)
	if err != nil {
		return err
	}

	if err := b.writer.WriteLogs(b.ctx, b.datasetRID, req); err != nil {
		return fmt.Errorf("failed to write logs: %w", wrapWriteError(err))
	}
	return nil
}

func buildWriteLogsRequest(batches []pointBatch) (writerapi.WriteLogsRequest, error) {
	logPoints := make([]writerapi.LogPoint, 0, countBatchPoints(batches))

	for _, batch := range batches {
		if len(batch.Timestamps) != len(batch.Values) {
			return writerapi.WriteLogsRequest{}, fmt.Errorf("timestamp/value length mismatch: %d timestamps, %d values", len(batch.Timestamps), len(batch.Values))
		}
		for i := range batch.Timestamps {
			logPoints = append(logPoints, writerapi.LogPoint{
				Timestamp: nanosecondsToTimestamp(batch.Timestamps[i]),
				Value: writerapi.LogValue{
					Message: batch.Values[i].message,
					Args:    batch.Values[i].args,
				},
			})
		}
	}

	return writerapi.WriteLogsRequest{Logs: logPoints}, nil
}

// nanosecondsToTimestamp converts nanoseconds to an API timestamp with nanos
// normalized to [0, 1e9).
func nanosecondsToTimestamp(nanos NanosecondsUTC) api.Timestamp {
	seconds := nanos / 1_000_000_000
	remaining := nanos % 1_000_000_000
	if remaining < 0 {
		seconds--
		remaining += 1_000_000_000
	}

	return api.Timestamp{
		Seconds: safelong.SafeLong(seconds),
		Nanos:   safelong.SafeLong(remaining),
	}
}
