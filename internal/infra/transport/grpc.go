package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vietddude/streamretry/internal/core/domain"
)

var streamDesc = &grpc.StreamDesc{
	StreamName:    "frames",
	ServerStreams: true,
	ClientStreams: true,
}

// DialGRPC creates a client connection to endpoint. An "https://" scheme or
// port 443 selects TLS; anything else is plaintext.
func DialGRPC(endpoint string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	target := endpoint
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial grpc endpoint %s: %w", target, err)
	}
	return conn, nil
}

// GRPCHandler forwards messages as bidirectional gRPC streams. Each Content
// frame travels as a BytesValue message on the method named by ":path".
type GRPCHandler struct {
	conn   grpc.ClientConnInterface
	logger *slog.Logger
}

// NewGRPCHandler creates a handler over conn.
func NewGRPCHandler(conn grpc.ClientConnInterface, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{conn: conn, logger: logger}
}

// Serve implements domain.Handler. The response ends with a Trailers frame
// carrying grpc-status, grpc-message and the server's trailer metadata, so a
// failed status is classified like any other trailing metadata.
func (h *GRPCHandler) Serve(ctx context.Context, req *domain.Message) (*domain.Message, error) {
	md := metadata.MD{}
	for k, v := range req.Headers.Forwarded() {
		md.Append(k, v)
	}

	sctx, cancel := context.WithCancel(metadata.NewOutgoingContext(ctx, md))
	stream, err := h.conn.NewStream(sctx, streamDesc, req.Headers.Get(":path"))
	if err != nil {
		cancel()
		req.Body.Discard()
		return nil, err
	}

	go h.send(sctx, cancel, req.Body, stream)

	header, err := stream.Header()
	if err != nil {
		cancel()
		return nil, err
	}

	headers := headersFromMD(header)
	body := domain.NewPipe(4)
	go h.recv(sctx, cancel, stream, body)

	return &domain.Message{Headers: headers, Body: body}, nil
}

func (h *GRPCHandler) send(ctx context.Context, cancel context.CancelFunc, s domain.Stream, stream grpc.ClientStream) {
	for {
		f, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			_ = stream.CloseSend()
			return
		}
		if err != nil {
			s.Discard()
			cancel()
			return
		}

		switch f := f.(type) {
		case *domain.Content:
			var serr error
			if len(f.Data) > 0 {
				serr = stream.SendMsg(wrapperspb.Bytes(f.Data))
			}
			final := f.Final
			f.Release()
			if serr != nil {
				// The server ended the call; RecvMsg reports its status.
				s.Discard()
				return
			}
			if final {
				_ = stream.CloseSend()
				return
			}
		case *domain.Trailers:
			h.logger.Debug("Dropping request trailers", "count", len(f.Metadata))
			f.Release()
			_ = stream.CloseSend()
			return
		}
	}
}

func (h *GRPCHandler) recv(ctx context.Context, cancel context.CancelFunc, stream grpc.ClientStream, body *domain.Pipe) {
	defer cancel()

	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if err == nil {
			if werr := body.Write(ctx, domain.NewContent(msg.GetValue(), false, nil)); werr != nil {
				body.Fail(werr)
				return
			}
			continue
		}

		st := status.New(codes.OK, "")
		if !errors.Is(err, io.EOF) {
			var ok bool
			if st, ok = status.FromError(err); !ok {
				body.Fail(err)
				return
			}
		}

		trailers := headersFromMD(stream.Trailer())
		trailers["grpc-status"] = strconv.Itoa(int(st.Code()))
		if msg := st.Message(); msg != "" {
			trailers["grpc-message"] = msg
		}
		if werr := body.Write(ctx, domain.NewTrailers(trailers, nil)); werr != nil {
			body.Fail(werr)
		}
		return
	}
}

func headersFromMD(md metadata.MD) domain.Headers {
	out := make(domain.Headers, len(md))
	for k, vs := range md {
		out[strings.ToLower(k)] = strings.Join(vs, ",")
	}
	return out
}
