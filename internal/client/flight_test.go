package client

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-charnn/internal/charnn"
)

type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	datasets []string
	rows     int64
	tickets  []string
}

func (s *mockFlightServer) DoPut(server flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(server)
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		s.mu.Lock()
		s.rows += reader.Record().NumRows()
		if desc := reader.LatestFlightDescriptor(); desc != nil {
			s.datasets = append(s.datasets, desc.Path...)
		}
		s.mu.Unlock()
	}
	return reader.Err()
}

func (s *mockFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	s.mu.Lock()
	s.tickets = append(s.tickets, string(tkt.Ticket))
	s.mu.Unlock()

	rec, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildSampleBatch(
		[]string{string(tkt.Ticket)}, []string{string(tkt.Ticket) + "!"})
	if err != nil {
		return err
	}
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(SampleSchema))
	defer w.Close()
	return w.Write(rec)
}

func startMockServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mock := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mock)
	require.NoError(t, server.Init("localhost:0"))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mock, server.Addr().String()
}

func TestFlightClient_DoPut(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	rb := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildProgressBatch([]charnn.Progress{
		{Iteration: 0, Loss: 1}, {Iteration: 1, Loss: 2}, {Iteration: 2, Loss: 3},
	})
	defer rb.Release()

	require.NoError(t, client.DoPut(context.Background(), "charnn_progress", rb))

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, int64(3), mock.rows)
	assert.Contains(t, mock.datasets, "charnn_progress")
}

func TestFlightClient_DoGet(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	batches, err := client.DoGet(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	defer batches[0].Release()

	assert.True(t, batches[0].Schema().Equal(SampleSchema))
	text := batches[0].Column(1).(*array.String)
	assert.Equal(t, "hello!", text.Value(0))

	mock.mu.Lock()
	assert.Equal(t, []string{"hello"}, mock.tickets)
	mock.mu.Unlock()
}

var _ Putter = (*FlightClient)(nil)
