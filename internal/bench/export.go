package bench

import (
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
)

// ResultSchema is the Arrow schema of an exported measurement set.
var ResultSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "label", Type: arrow.BinaryTypes.String},
		{Name: "sub_label", Type: arrow.BinaryTypes.String},
		{Name: "description", Type: arrow.BinaryTypes.String},
		{Name: "runs", Type: arrow.PrimitiveTypes.Int64},
		{Name: "median_ns", Type: arrow.PrimitiveTypes.Int64},
		{Name: "mean_ns", Type: arrow.PrimitiveTypes.Int64},
	},
	nil,
)

// BuildRecordBatch converts measurements into an Arrow RecordBatch with one
// row per measurement. The caller releases the batch.
func BuildRecordBatch(ms []Measurement) arrow.RecordBatch {
	pool := memory.NewGoAllocator()

	labelB := array.NewStringBuilder(pool)
	defer labelB.Release()
	subLabelB := array.NewStringBuilder(pool)
	defer subLabelB.Release()
	descB := array.NewStringBuilder(pool)
	defer descB.Release()
	runsB := array.NewInt64Builder(pool)
	defer runsB.Release()
	medianB := array.NewInt64Builder(pool)
	defer medianB.Release()
	meanB := array.NewInt64Builder(pool)
	defer meanB.Release()

	for _, m := range ms {
		labelB.Append(m.Label)
		subLabelB.Append(m.SubLabel)
		descB.Append(m.Description)
		runsB.Append(int64(m.Runs))
		medianB.Append(m.Median.Nanoseconds())
		meanB.Append(m.Mean.Nanoseconds())
	}

	cols := []arrow.Array{
		labelB.NewArray(), subLabelB.NewArray(), descB.NewArray(),
		runsB.NewArray(), medianB.NewArray(), meanB.NewArray(),
	}
	for _, c := range cols {
		defer c.Release()
	}

	return array.NewRecordBatch(ResultSchema, cols, int64(len(ms)))
}

// WriteArrowFile writes the measurement set to path as an Arrow IPC stream.
func WriteArrowFile(path string, ms []Measurement) error {
	rec := BuildRecordBatch(ms)
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := ipc.NewWriter(f, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		_ = f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// resultRow is the CBOR wire form of one measurement.
type resultRow struct {
	Label       string `cbor:"label"`
	SubLabel    string `cbor:"sub_label"`
	Description string `cbor:"description"`
	Runs        int    `cbor:"runs"`
	MedianNs    int64  `cbor:"median_ns"`
	MeanNs      int64  `cbor:"mean_ns"`
}

// MarshalCBOR encodes the measurement set as a CBOR array of row maps.
func MarshalCBOR(ms []Measurement) ([]byte, error) {
	rows := make([]resultRow, len(ms))
	for i, m := range ms {
		rows[i] = resultRow{
			Label:       m.Label,
			SubLabel:    m.SubLabel,
			Description: m.Description,
			Runs:        m.Runs,
			MedianNs:    m.Median.Nanoseconds(),
			MeanNs:      m.Mean.Nanoseconds(),
		}
	}
	return cbor.Marshal(rows)
}

// WriteCBORFile writes the measurement set to path as CBOR.
func WriteCBORFile(path string, ms []Measurement) error {
	data, err := MarshalCBOR(ms)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
