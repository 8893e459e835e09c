package main

import (
	"fmt"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-charnn/internal/client"
)

// CharnnFlightServer answers DoGet with generated text. The ticket is a
// CBOR-encoded GenerateRequest.
type CharnnFlightServer struct {
	flight.BaseFlightServer
	srv     *Server
	builder *client.RecordBatchBuilder
}

func NewCharnnFlightServer(srv *Server) *CharnnFlightServer {
	return &CharnnFlightServer{
		srv:     srv,
		builder: client.NewRecordBatchBuilder(memory.NewGoAllocator()),
	}
}

func (s *CharnnFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	var req GenerateRequest
	if err := cbor.Unmarshal(tkt.GetTicket(), &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "ticket: %v", err)
	}

	text, err := s.srv.Generate(stream.Context(), req)
	if err != nil {
		switch statusFor(err) {
		case http.StatusBadRequest:
			return status.Error(codes.InvalidArgument, err.Error())
		case http.StatusServiceUnavailable:
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		log.Error().Err(err).Msg("Flight generation failed")
		return status.Error(codes.Internal, err.Error())
	}

	rec, err := s.builder.BuildSampleBatch([]string{req.Prime}, []string{text})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(client.SampleSchema))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("DoGet write: %w", err)
	}
	return w.Close()
}

// newFlightServer binds addr; the caller runs Serve.
func newFlightServer(addr string, srv *Server) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewCharnnFlightServer(srv))
	if err := server.Init(addr); err != nil {
		return nil, fmt.Errorf("init flight server: %w", err)
	}
	return server, nil
}
