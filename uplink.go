package datalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nominal-io/nominal-api-go/api/rids"
	writerapi "github.com/nominal-io/nominal-api-go/storage/writer/api"
	"github.com/palantir/pkg/rid"
)

// LogWriter sends a batch of log points to a Nominal dataset.
type LogWriter interface {
	WriteLogs(ctx context.Context, datasetRID rids.NominalDataSourceOrDatasetRid, req writerapi.WriteLogsRequest) error
}

// LogWriterFunc adapts a function to a LogWriter.
type LogWriterFunc func(ctx context.Context, datasetRID rids.NominalDataSourceOrDatasetRid, req writerapi.WriteLogsRequest) error

func (f LogWriterFunc) WriteLogs(ctx context.Context, datasetRID rids.NominalDataSourceOrDatasetRid, req writerapi.WriteLogsRequest) error {
	return f(ctx, datasetRID, req)
}

// ParseDatasetRID parses a dataset resource identifier such as
// "ri.nominal.main.dataset.<uuid>".
func ParseDatasetRID(s string) (rids.NominalDataSourceOrDatasetRid, error) {
	parsed, err := rid.ParseRID(s)
	if err != nil {
		return rids.NominalDataSourceOrDatasetRid{}, fmt.Errorf("invalid dataset RID %q: %w", s, err)
	}
	return rids.NominalDataSourceOrDatasetRid(parsed), nil
}

// Uplink mirrors logged readings to a Nominal dataset as log points.
// Points are buffered per channel and flushed in the background when the
// batch size is reached or the flush interval elapses.
//
// Enqueue is safe for concurrent use and never blocks on the network.
type Uplink struct {
	datasetRID rids.NominalDataSourceOrDatasetRid
	batcher    *uplinkBatcher
}

type UplinkOption func(*Uplink) error

func WithBatchSize(size int) UplinkOption {
	return func(u *Uplink) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		u.batcher.flushSize = size
		return nil
	}
}

func WithFlushInterval(interval time.Duration) UplinkOption {
	return func(u *Uplink) error {
		if interval <= 0 {
			return fmt.Errorf("flush interval must be positive, got %s", interval)
		}
		u.batcher.flushPeriod = interval
		return nil
	}
}

// WithMaxConcurrentFlushes sets the maximum number of writes in flight.
// When this limit is reached, new flushes are handled according to the
// backpressure policy. Default is 10.
func WithMaxConcurrentFlushes(n int) UplinkOption {
	return func(u *Uplink) error {
		if n <= 0 {
			n = 1
		}
		u.batcher.maxConcurrentFlushes = n
		u.batcher.flushSem = make(chan struct{}, n)
		return nil
	}
}

// WithBackpressurePolicy sets how the uplink handles backpressure when
// the maximum concurrent flushes limit is reached.
//
// Options:
//   - BackpressureRequeue (default): Re-queue data for the next flush attempt.
//     No data loss, but memory grows under sustained backpressure up to the
//     buffer limit.
//   - BackpressureDropBatch: Drop the entire batch when backpressure occurs.
func WithBackpressurePolicy(policy BackpressurePolicy) UplinkOption {
	return func(u *Uplink) error {
		u.batcher.backpressurePolicy = policy
		return nil
	}
}

// WithMaxBufferPoints sets the maximum number of points kept after
// re-queuing. The oldest points are dropped past this limit.
// Default is 1,000,000 points. Set to 0 to disable the limit.
func WithMaxBufferPoints(max int) UplinkOption {
	return func(u *Uplink) error {
		u.batcher.maxBufferPoints = max
		return nil
	}
}

// NewUplink starts an uplink writing to datasetRID through w. ctx is passed
// to every write.
func NewUplink(ctx context.Context, w LogWriter, datasetRID rids.NominalDataSourceOrDatasetRid, opts ...UplinkOption) (*Uplink, error) {
	if w == nil {
		return nil, ErrMissingWriter
	}

	u := &Uplink{
		datasetRID: datasetRID,
		batcher:    newUplinkBatcher(ctx, w, datasetRID),
	}

	for _, opt := range opts {
		if err := opt(u); err != nil {
			return nil, fmt.Errorf("failed to apply uplink option: %w", err)
		}
	}

	u.batcher.start()
	return u, nil
}

// DatasetRID returns the dataset the uplink writes to.
func (u *Uplink) DatasetRID() rids.NominalDataSourceOrDatasetRid {
	return u.datasetRID
}

// Enqueue buffers one log point for channel.
func (u *Uplink) Enqueue(channel string, timestamp NanosecondsUTC, message string, args map[string]string) error {
	if u.batcher.isClosed() {
		return ErrUplinkClosed
	}
	u.batcher.add(channel, timestamp, message, args)
	return nil
}

// Errors returns the channel on which failed writes are reported. It is
// closed by Close.
func (u *Uplink) Errors() <-chan error {
	return u.batcher.errors
}

// ProcessErrors calls fn for every reported error on a separate goroutine
// until the uplink is closed.
func (u *Uplink) ProcessErrors(fn func(error)) {
	go func() {
		for err := range u.batcher.errors {
			fn(err)
		}
	}()
}

// Close flushes buffered points and waits for in-flight writes.
func (u *Uplink) Close() error {
	return u.batcher.close()
}

// Follow subscribes u to every reading added to dl. Each reading becomes a
// log point on the channel named by name, timestamped at the log's begin
// time plus the reading time. A nil name formats the channel with fmt.
//
// Readings added after u is closed are dropped.
func Follow[C comparable](u *Uplink, dl *DataLog[C], name func(C) string) *Connection {
	if name == nil {
		name = func(ch C) string { return fmt.Sprint(ch) }
	}

	return dl.OnAdd(func(series *Series[C], entry Reading) error {
		channel := name(series.Channel)
		ts := dl.BeginTime().Add(time.Duration(entry.Time) * time.Millisecond).UnixNano()
		_ = u.Enqueue(channel, ts, strconv.FormatFloat(entry.Value, 'g', -1, 64), map[string]string{
			"channel":    channel,
			"elapsed_ms": strconv.FormatUint(entry.Time, 10),
		})
		return nil
	})
}
