package readings_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(values ...float64) []readings.Sample {
	out := make([]readings.Sample, len(values))
	for i, v := range values {
		out[i] = readings.Sample{TimestampS: float64(i * 900), PowerW: v}
	}
	return out
}

func TestMemorySource(t *testing.T) {
	src, err := readings.NewMemorySource(map[string]map[string][]readings.Sample{
		"meter-b": {
			"load_10": series(1, 2, 3),
			"load_2":  series(4, 5, 6),
			"load_0":  series(7, 8, 9),
		},
		"meter-a": {
			"load_0": series(10, 11, 12),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"meter-a", "meter-b"}, src.Meters())
	assert.Equal(t, 3, src.Length())

	comps, ok := src.LoadComponents("meter-b")
	require.True(t, ok)
	assert.Equal(t, []string{"load_0", "load_2", "load_10"}, comps)

	_, ok = src.LoadComponents("meter-z")
	assert.False(t, ok)

	s, err := src.Sample("meter-b", "load_2", 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, s.PowerW)
	assert.Equal(t, 900.0, s.TimestampS)

	_, err = src.Sample("meter-b", "load_2", 3)
	assert.ErrorIs(t, err, readings.ErrIndexOutOfRange)
	_, err = src.Sample("meter-z", "load_0", 0)
	assert.ErrorIs(t, err, readings.ErrMeterNotFound)
	_, err = src.Sample("meter-a", "load_5", 0)
	assert.ErrorIs(t, err, readings.ErrComponentNotFound)

	full, err := src.Series("meter-a", "load_0")
	require.NoError(t, err)
	assert.Len(t, full, 3)
}

func TestMemorySourceRejectsLengthMismatch(t *testing.T) {
	_, err := readings.NewMemorySource(map[string]map[string][]readings.Sample{
		"meter-a": {"load_0": series(1, 2, 3)},
		"meter-b": {"load_0": series(1, 2)},
	})
	assert.ErrorIs(t, err, readings.ErrLengthMismatch)
}

func writeParquet(t *testing.T, path string, rows [][4]interface{}) {
	t.Helper()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: readings.ColumnMeterID, Type: arrow.BinaryTypes.String},
		{Name: readings.ColumnLoadComponent, Type: arrow.BinaryTypes.String},
		{Name: readings.ColumnTimestamp, Type: arrow.PrimitiveTypes.Float64},
		{Name: readings.ColumnPower, Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, row := range rows {
		builder.Field(0).(*array.StringBuilder).Append(row[0].(string))
		builder.Field(1).(*array.StringBuilder).Append(row[1].(string))
		builder.Field(2).(*array.Float64Builder).Append(row[2].(float64))
		builder.Field(3).(*array.Float64Builder).Append(row[3].(float64))
	}

	rec := builder.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	require.NoError(t, err)

	writer, err := pqarrow.NewFileWriter(schema, f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())
}

func TestLoadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load_data.parquet")
	writeParquet(t, path, [][4]interface{}{
		{"meter-1", "load_0", 900.0, 200.0},
		{"meter-1", "load_0", 0.0, 100.0},
		{"meter-1", "load_1", 0.0, 50.0},
		{"meter-1", "load_1", 900.0, 60.0},
		{"meter-2", "load_0", 0.0, 300.0},
		{"meter-2", "load_0", 900.0, 400.0},
	})

	src, err := readings.LoadParquet(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"meter-1", "meter-2"}, src.Meters())
	assert.Equal(t, 2, src.Length())

	first, err := src.Sample("meter-1", "load_0", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.TimestampS)
	assert.Equal(t, 100.0, first.PowerW)

	comps, ok := src.LoadComponents("meter-1")
	require.True(t, ok)
	assert.Equal(t, []string{"load_0", "load_1"}, comps)
}

func TestLoadParquetMissingFile(t *testing.T) {
	_, err := readings.LoadParquet(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}
