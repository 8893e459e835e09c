package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-charnn/internal/charnn"
)

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) DoPut(ctx context.Context, dataset string, rec arrow.RecordBatch) error {
	args := m.Called(ctx, dataset, rec)
	return args.Error(0)
}

func progressRows(n int) []charnn.Progress {
	rows := make([]charnn.Progress, n)
	for i := range rows {
		rows[i] = charnn.Progress{Iteration: i, Position: i * 25, Loss: float64(i), SmoothLoss: 4}
	}
	return rows
}

func TestProgressExporter_IPC(t *testing.T) {
	var buf bytes.Buffer
	mem := memory.NewGoAllocator()
	exp := NewProgressExporter(context.Background(), mem, 2, NewIPCSink(&buf, mem))

	for _, p := range progressRows(5) {
		exp.Record(p)
	}
	require.NoError(t, exp.Close())

	reader, err := ipc.NewReader(&buf, ipc.WithAllocator(mem))
	require.NoError(t, err)
	defer reader.Release()
	assert.True(t, reader.Schema().Equal(ProgressSchema))

	var batches int
	var iterations []int64
	for reader.Next() {
		batches++
		iterations = append(iterations, reader.Record().Column(0).(*array.Int64).Int64Values()...)
	}
	require.NoError(t, reader.Err())
	assert.Equal(t, 3, batches)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, iterations)
}

func TestFlightSink_OpensCircuit(t *testing.T) {
	putter := new(mockPutter)
	putter.On("DoPut", mock.Anything, "progress", mock.Anything).Return(errors.New("unavailable"))

	sink := NewFlightSink(putter, "progress", 2, time.Minute, time.Second)
	rec := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildProgressBatch(progressRows(1))
	defer rec.Release()

	ctx := context.Background()
	assert.Error(t, sink.WriteBatch(ctx, rec))
	assert.Error(t, sink.WriteBatch(ctx, rec))
	assert.ErrorIs(t, sink.WriteBatch(ctx, rec), ErrCircuitOpen)

	putter.AssertNumberOfCalls(t, "DoPut", 2)
	assert.Equal(t, StateOpen, sink.Breaker().State())
}

func TestProgressExporter_SinkFailureIsContained(t *testing.T) {
	putter := new(mockPutter)
	putter.On("DoPut", mock.Anything, "progress", mock.Anything).Return(errors.New("unavailable"))

	var buf bytes.Buffer
	mem := memory.NewGoAllocator()
	exp := NewProgressExporter(context.Background(), mem, 1,
		NewFlightSink(putter, "progress", 1, time.Minute, 0),
		NewIPCSink(&buf, mem),
	)

	for _, p := range progressRows(4) {
		exp.Record(p)
	}
	require.NoError(t, exp.Close())

	// the breaker opened after the first failure; the IPC sink saw every row
	putter.AssertNumberOfCalls(t, "DoPut", 1)
	reader, err := ipc.NewReader(&buf, ipc.WithAllocator(mem))
	require.NoError(t, err)
	defer reader.Release()
	var rows int64
	for reader.Next() {
		rows += reader.Record().NumRows()
	}
	assert.Equal(t, int64(4), rows)
}

func TestProgressExporter_FlushPartial(t *testing.T) {
	putter := new(mockPutter)
	putter.On("DoPut", mock.Anything, "progress", mock.Anything).Return(nil)

	exp := NewProgressExporter(context.Background(), memory.NewGoAllocator(), 10,
		NewFlightSink(putter, "progress", 3, time.Minute, 0))

	for _, p := range progressRows(3) {
		exp.Record(p)
	}
	putter.AssertNotCalled(t, "DoPut", mock.Anything, mock.Anything, mock.Anything)

	exp.Flush()
	putter.AssertNumberOfCalls(t, "DoPut", 1)
	rec := putter.Calls[0].Arguments.Get(2).(arrow.RecordBatch)
	assert.Equal(t, int64(3), rec.NumRows())

	// nothing buffered, nothing sent
	exp.Flush()
	putter.AssertNumberOfCalls(t, "DoPut", 1)
}
