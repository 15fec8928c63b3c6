package readings

import (
	"context"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// Parquet column names of the long-format readings file
const (
	ColumnMeterID       = "meter_id"
	ColumnLoadComponent = "load_component"
	ColumnTimestamp     = "timestamp_s"
	ColumnPower         = "power_w"
)

const readBatchSize = 64 * 1024

// LoadParquet reads a long-format readings file into a MemorySource.
// Rows of a channel are ordered by timestamp before the source is built.
func LoadParquet(ctx context.Context, path string) (*MemorySource, error) {
	pqReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("[READINGS] failed to open %s: %w", path, err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		BatchSize: readBatchSize,
	}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("[READINGS] failed to create arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("[READINGS] failed to read table: %w", err)
	}
	defer table.Release()

	data := make(map[string]map[string][]Sample)

	tableReader := array.NewTableReader(table, readBatchSize)
	defer tableReader.Release()

	for tableReader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := appendRecord(data, tableReader.Record()); err != nil {
			return nil, fmt.Errorf("[READINGS] %s: %w", path, err)
		}
	}

	for _, channels := range data {
		for _, samples := range channels {
			sort.SliceStable(samples, func(i, j int) bool {
				return samples[i].TimestampS < samples[j].TimestampS
			})
		}
	}

	src, err := NewMemorySource(data)
	if err != nil {
		return nil, fmt.Errorf("[READINGS] %s: %w", path, err)
	}
	return src, nil
}

func appendRecord(data map[string]map[string][]Sample, rec arrow.Record) error {
	meters, err := stringColumn(rec, ColumnMeterID)
	if err != nil {
		return err
	}
	components, err := stringColumn(rec, ColumnLoadComponent)
	if err != nil {
		return err
	}
	timestamps, err := float64Column(rec, ColumnTimestamp)
	if err != nil {
		return err
	}
	powers, err := float64Column(rec, ColumnPower)
	if err != nil {
		return err
	}

	for i := 0; i < int(rec.NumRows()); i++ {
		if meters.IsNull(i) || components.IsNull(i) {
			continue
		}
		meterID := meters.Value(i)
		channels, ok := data[meterID]
		if !ok {
			channels = make(map[string][]Sample)
			data[meterID] = channels
		}
		component := components.Value(i)
		channels[component] = append(channels[component], Sample{
			TimestampS: timestamps.Value(i),
			PowerW:     powers.Value(i),
		})
	}
	return nil
}

func columnIndex(rec arrow.Record, name string) (int, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return 0, fmt.Errorf("missing column %q", name)
	}
	return indices[0], nil
}

func stringColumn(rec arrow.Record, name string) (*array.String, error) {
	idx, err := columnIndex(rec, name)
	if err != nil {
		return nil, err
	}
	col, ok := rec.Column(idx).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, expected utf8", name, rec.Column(idx).DataType())
	}
	return col, nil
}

func float64Column(rec arrow.Record, name string) (*array.Float64, error) {
	idx, err := columnIndex(rec, name)
	if err != nil {
		return nil, err
	}
	col, ok := rec.Column(idx).(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, expected float64", name, rec.Column(idx).DataType())
	}
	return col, nil
}
