package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/agentd/agentd/pkg/wire"
)

// rawFrame is the sole message type the gRPC transport ever marshals: the
// already-JSON-encoded wire.InvocationPayload or wire.InvocationResponse,
// passed through untouched. There is no generated .pb.go for this
// transport; rawCodec below lets gRPC carry opaque bytes without a
// protobuf schema, the same technique generic gRPC proxies use.
type rawFrame struct {
	Payload []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("fabric: rawCodec cannot marshal %T", v)
	}
	return f.Payload, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("fabric: rawCodec cannot unmarshal into %T", v)
	}
	f.Payload = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

const grpcInvokeMethod = "/fabric.Fabric/Invoke"

var grpcStreamDesc = grpc.StreamDesc{
	StreamName:    "Invoke",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCTransport is a DiscoveryTransport that invokes capabilities on a
// single known peer over a plain TCP gRPC connection (spec §9's optional
// domain stack: gRPC as an alternate transport alongside the Unix-socket
// process-spawn handshake). It does not perform discovery of its own; it
// is paired with a separate discovery source and used purely for Invoke.
type GRPCTransport struct {
	peerID  string
	addr    string
	server  *grpc.Server
	conn    *grpc.ClientConn
	handler IncomingHandler
}

// NewGRPCTransport builds a transport that dials peerAddr to invoke on
// peerID. Serving incoming invocations is started separately with Serve.
func NewGRPCTransport(peerID, peerAddr string) *GRPCTransport {
	return &GRPCTransport{peerID: peerID, addr: peerAddr}
}

// Name identifies this transport in log entries.
func (t *GRPCTransport) Name() string { return "grpc" }

// SetIncomingHandler installs the handler invoked for each inbound stream.
func (t *GRPCTransport) SetIncomingHandler(handler IncomingHandler) { t.handler = handler }

// Serve starts a gRPC server on listenAddr that dispatches every inbound
// Invoke stream to the installed IncomingHandler. It blocks until ctx is
// cancelled or the listener fails.
func (t *GRPCTransport) Serve(ctx context.Context, listenAddr string) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("fabric: grpc listen: %w", err)
	}
	t.server = grpc.NewServer(grpc.UnknownServiceHandler(t.streamHandler))

	errCh := make(chan error, 1)
	go func() { errCh <- t.server.Serve(lis) }()

	select {
	case <-ctx.Done():
		t.server.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (t *GRPCTransport) streamHandler(srv interface{}, stream grpc.ServerStream) error {
	var in rawFrame
	if err := stream.RecvMsg(&in); err != nil {
		return err
	}
	var payload wire.InvocationPayload
	if err := json.Unmarshal(in.Payload, &payload); err != nil {
		return err
	}

	var resp wire.InvocationResponse
	if t.handler == nil {
		resp = wire.NewErrorResponse(payload.InvocationID, wire.ErrInternal, "no incoming handler installed")
	} else {
		result, err := t.handler(stream.Context(), t.peerID, payload.TargetCapability, payload.Arguments)
		if err != nil {
			resp = wire.NewErrorResponse(payload.InvocationID, wire.ErrInvocationFailed, err.Error())
		} else {
			resp = wire.InvocationResponse{InvocationID: payload.InvocationID, Success: true, Result: result}
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return stream.SendMsg(&rawFrame{Payload: out})
}

// dial lazily establishes (and caches) the client connection to addr.
func (t *GRPCTransport) dial(ctx context.Context) (*grpc.ClientConn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := grpc.NewClient(t.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("fabric: grpc dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return conn, nil
}

// DiscoverAll is a no-op for GRPCTransport: it targets one known peer and
// never contributes members to the community's discovery diff.
func (t *GRPCTransport) DiscoverAll(ctx context.Context, timeout time.Duration) ([]Member, error) {
	return nil, nil
}

// Discover is backed by DiscoverAll plus client-side filtering, so it
// inherits DiscoverAll's no-op behavior today but picks up real members for
// free if this transport ever grows a member directory of its own.
func (t *GRPCTransport) Discover(ctx context.Context, filter DiscoverFilter, timeout time.Duration) ([]Member, error) {
	all, err := t.DiscoverAll(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return filterMembers(all, filter), nil
}

// Resolve is a single-peer DiscoverAll variant: like DiscoverAll, it has
// nothing to resolve against until this transport tracks a member
// directory, but it saves the caller a DiscoverAll-plus-scan when it does.
func (t *GRPCTransport) Resolve(ctx context.Context, peerID string, timeout time.Duration) (Member, bool, error) {
	all, err := t.DiscoverAll(ctx, timeout)
	if err != nil {
		return Member{}, false, err
	}
	for _, m := range all {
		if m.ID == peerID {
			return m, true, nil
		}
	}
	return Member{}, false, nil
}

// Invoke opens one bidirectional stream, sends a single InvocationPayload
// frame, reads a single InvocationResponse frame, and closes the stream.
func (t *GRPCTransport) Invoke(ctx context.Context, peerID, capability string, arguments []byte, timeout time.Duration) ([]byte, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := grpc.NewClientStream(callCtx, &grpcStreamDesc, conn, grpcInvokeMethod, grpc.CallContentSubtype(rawCodec{}.Name()))
	if err != nil {
		return nil, fmt.Errorf("fabric: grpc open stream: %w", err)
	}

	payload := wire.InvocationPayload{
		InvocationID:     peerID + ":" + capability,
		TargetCapability: capability,
		Arguments:        arguments,
	}
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrSerializationFailed
	}
	if err := stream.SendMsg(&rawFrame{Payload: reqBytes}); err != nil {
		return nil, fmt.Errorf("fabric: grpc send: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("fabric: grpc close send: %w", err)
	}

	var out rawFrame
	if err := stream.RecvMsg(&out); err != nil {
		if err == io.EOF {
			return nil, ErrDeserializationFailed
		}
		return nil, fmt.Errorf("fabric: grpc recv: %w", err)
	}

	var resp wire.InvocationResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return nil, ErrDeserializationFailed
	}
	if !resp.Success {
		code, msg := "", ""
		if resp.ErrorCode != nil {
			code = *resp.ErrorCode
		}
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return nil, &InvocationFailedError{Code: code, Message: msg}
	}
	return resp.Result, nil
}

// Close tears down the cached client connection and the server, if
// either was started.
func (t *GRPCTransport) Close() error {
	if t.server != nil {
		t.server.Stop()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
