// Package timeseries is the time-series store driver: a thin wrapper
// over the InfluxDB client implementing the dump/restore/sync
// operations the backup engine and replicator need.
package timeseries

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Point is one time-series sample as seen by a full or incremental
// dump.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Timestamp   time.Time
}

// Store is the time-series store driver surface Aegis depends on.
type Store interface {
	Ping(ctx context.Context) error

	// DumpRange returns every point with timestamp in (since, until].
	// A zero since performs a full export.
	DumpRange(ctx context.Context, since, until time.Time) ([]Point, error)

	// Restore writes points back into the bucket.
	Restore(ctx context.Context, points []Point) error

	Close()
}

// InfluxStore is the production Store backed by influxdb-client-go.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	org      string
	bucket   string
}

// Dial connects to an InfluxDB instance.
func Dial(url, token, org, bucket string) *InfluxStore {
	client := influxdb2.NewClient(url, token)
	return &InfluxStore{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		queryAPI: client.QueryAPI(org),
		org:      org,
		bucket:   bucket,
	}
}

func (s *InfluxStore) Ping(ctx context.Context) error {
	ready, err := s.client.Ready(ctx)
	if err != nil {
		return fmt.Errorf("timeseries: ping: %w", err)
	}
	if !ready {
		return fmt.Errorf("timeseries: server not ready")
	}
	return nil
}

// DumpRange runs a Flux range query against the configured bucket and
// decodes each row into a Point. An incremental backup passes the last
// backup's timestamp as since; a full backup passes the zero time.
func (s *InfluxStore) DumpRange(ctx context.Context, since, until time.Time) ([]Point, error) {
	// Flux's range is [start, stop); shifting both bounds by 1ns makes it
	// (since, until].
	start := "0"
	if !since.IsZero() {
		start = since.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano)
	}
	stop := until.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano)

	flux := fmt.Sprintf(`from(bucket: "%s") |> range(start: %s, stop: %s)`, s.bucket, start, stop)
	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("timeseries: query: %w", err)
	}
	defer result.Close()

	var points []Point
	for result.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rec := result.Record()
		points = append(points, Point{
			Measurement: rec.Measurement(),
			Tags:        valuesAsStrings(rec.Values()),
			Fields:      map[string]interface{}{rec.Field(): rec.Value()},
			Timestamp:   rec.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("timeseries: iterate result: %w", result.Err())
	}
	return points, nil
}

func (s *InfluxStore) Restore(ctx context.Context, points []Point) error {
	for _, p := range points {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		influxPoint := influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Timestamp)
		if err := s.writeAPI.WritePoint(ctx, influxPoint); err != nil {
			return fmt.Errorf("timeseries: write point at %s: %w", p.Timestamp, err)
		}
	}
	return nil
}

func (s *InfluxStore) Close() {
	s.client.Close()
}

func valuesAsStrings(values map[string]interface{}) map[string]string {
	tags := make(map[string]string)
	for k, v := range values {
		switch k {
		case "_measurement", "_field", "_value", "_time", "_start", "_stop", "table", "result":
			continue
		}
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	return tags
}
