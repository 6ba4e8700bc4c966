package fabric

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/agentd/agentd/pkg/wire"
)

// ServeHandshake is the child side of the process-spawn handshake (spec
// §4.F, §6): it creates socketPath, accepts exactly one connection, reads
// a length-prefixed HandshakeRequest, validates the protocol version, and
// replies with a length-prefixed HandshakeResponse carrying info. The
// socket is unlinked before returning, success or failure.
func ServeHandshake(ctx context.Context, socketPath string, protocolVersion int, info wire.AgentInfo) error {
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return ErrProcessSpawnFailed
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	if dl, ok := ctx.Deadline(); ok {
		if ul, ok := listener.(*net.UnixListener); ok {
			ul.SetDeadline(dl)
		}
	}

	conn, err := listener.Accept()
	if err != nil {
		return ErrProcessSpawnTimeout
	}
	defer conn.Close()

	var req wire.HandshakeRequest
	if err := wire.ReadJSONFrame(conn, &req); err != nil {
		return ErrProcessHandshakeFailed
	}
	if req.ProtocolVersion != protocolVersion {
		_ = wire.WriteJSONFrame(conn, wire.HandshakeResponse{
			Success:      false,
			ErrorMessage: ErrProtocolVersionMismatch.Error(),
		})
		return ErrProtocolVersionMismatch
	}

	info.ProtocolVersion = protocolVersion
	resp := wire.HandshakeResponse{Success: true, AgentInfo: &info}
	if err := wire.WriteJSONFrame(conn, resp); err != nil {
		return ErrProcessHandshakeFailed
	}
	return nil
}

// DialHandshake is the parent side: it polls for socketPath to appear for
// up to spawnTimeout, then dials and exchanges the handshake within
// handshakeTimeout, returning the child's AgentInfo.
func DialHandshake(ctx context.Context, socketPath, parentID string, protocolVersion int, spawnTimeout, handshakeTimeout time.Duration) (wire.AgentInfo, error) {
	if err := waitForSocket(ctx, socketPath, spawnTimeout); err != nil {
		return wire.AgentInfo{}, ErrProcessSpawnTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "unix", socketPath)
	if err != nil {
		return wire.AgentInfo{}, ErrProcessSpawnFailed
	}
	defer conn.Close()

	if dl, ok := dialCtx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	req := wire.HandshakeRequest{ParentID: parentID, ProtocolVersion: protocolVersion}
	if err := wire.WriteJSONFrame(conn, req); err != nil {
		return wire.AgentInfo{}, ErrProcessHandshakeFailed
	}

	var resp wire.HandshakeResponse
	if err := wire.ReadJSONFrame(conn, &resp); err != nil {
		return wire.AgentInfo{}, ErrProcessHandshakeFailed
	}
	if !resp.Success || resp.AgentInfo == nil {
		return wire.AgentInfo{}, ErrProcessHandshakeFailed
	}
	return *resp.AgentInfo, nil
}

func waitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrProcessSpawnTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
