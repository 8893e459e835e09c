package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-charnn/internal/charnn"
)

// ProgressSchema is the layout of training progress batches.
var ProgressSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "iteration", Type: arrow.PrimitiveTypes.Int64},
		{Name: "position", Type: arrow.PrimitiveTypes.Int64},
		{Name: "reset", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "loss", Type: arrow.PrimitiveTypes.Float64},
		{Name: "smooth_loss", Type: arrow.PrimitiveTypes.Float64},
	},
	nil,
)

// SampleSchema is the layout of generated text batches.
var SampleSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "prime", Type: arrow.BinaryTypes.String},
		{Name: "text", Type: arrow.BinaryTypes.String},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from training output.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildProgressBatch converts progress rows into a RecordBatch with
// ProgressSchema. It returns nil for no rows.
func (b *RecordBatchBuilder) BuildProgressBatch(rows []charnn.Progress) arrow.RecordBatch {
	if len(rows) == 0 {
		return nil
	}

	iter := array.NewInt64Builder(b.mem)
	defer iter.Release()
	pos := array.NewInt64Builder(b.mem)
	defer pos.Release()
	reset := array.NewBooleanBuilder(b.mem)
	defer reset.Release()
	loss := array.NewFloat64Builder(b.mem)
	defer loss.Release()
	smooth := array.NewFloat64Builder(b.mem)
	defer smooth.Release()

	for _, p := range rows {
		iter.Append(int64(p.Iteration))
		pos.Append(int64(p.Position))
		reset.Append(p.Reset)
		loss.Append(p.Loss)
		smooth.Append(p.SmoothLoss)
	}

	cols := []arrow.Array{iter.NewArray(), pos.NewArray(), reset.NewArray(), loss.NewArray(), smooth.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(ProgressSchema, cols, int64(len(rows)))
}

// BuildSampleBatch pairs each prime with the text generated from it.
func (b *RecordBatchBuilder) BuildSampleBatch(primes, texts []string) (arrow.RecordBatch, error) {
	if len(primes) != len(texts) {
		return nil, fmt.Errorf("sample batch: %d primes for %d texts", len(primes), len(texts))
	}
	if len(texts) == 0 {
		return nil, nil
	}

	primeBuilder := array.NewStringBuilder(b.mem)
	defer primeBuilder.Release()
	primeBuilder.AppendValues(primes, nil)

	textBuilder := array.NewStringBuilder(b.mem)
	defer textBuilder.Release()
	textBuilder.AppendValues(texts, nil)

	cols := []arrow.Array{primeBuilder.NewArray(), textBuilder.NewArray()}
	defer cols[0].Release()
	defer cols[1].Release()

	return array.NewRecordBatch(SampleSchema, cols, int64(len(texts))), nil
}
