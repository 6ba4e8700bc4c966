// Package wire holds the schemas and framing helpers shared by the run loop
// transport and the distributed message fabric: the boundary types that
// cross a process or machine edge as JSON.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameBytes bounds any single length-prefixed frame read from the wire.
// The process-spawn handshake response is explicitly capped at this size
// (spec §6); the same ceiling is applied to every other length-prefixed
// frame as a protocol-error guard.
const MaxFrameBytes = 1_000_000

// WriteFrame writes a big-endian u32 length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameBytes)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a big-endian u32 length prefix followed by that many
// payload bytes, rejecting frames above MaxFrameBytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("wire: declared frame length %d exceeds max %d", n, MaxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return buf, nil
}

// WriteJSONFrame marshals v and writes it as a length-prefixed frame.
func WriteJSONFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	return WriteFrame(w, b)
}

// ReadJSONFrame reads a length-prefixed frame and unmarshals it into v.
func ReadJSONFrame(r io.Reader, v any) error {
	b, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("wire: unmarshal frame: %w", err)
	}
	return nil
}

// AgentInfo is the handshake payload describing a spawned or discovered
// agent: id, optional display name, accepted perceptions, provided
// capabilities, protocol version, and free-form metadata.
type AgentInfo struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	Accepts         []string          `json:"accepts"`
	Provides        []string          `json:"provides"`
	ProtocolVersion int               `json:"protocolVersion"`
	Metadata        map[string]string `json:"metadata"`
}

// HandshakeRequest is sent by the parent over the process-spawn socket.
type HandshakeRequest struct {
	ParentID        string `json:"parentID"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// HandshakeResponse is the child's reply to a HandshakeRequest.
type HandshakeResponse struct {
	Success      bool       `json:"success"`
	AgentInfo    *AgentInfo `json:"agentInfo,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Canonical error codes for InvocationResponse.ErrorCode.
const (
	ErrResourceUnavailable   = "resource_unavailable"
	ErrCapabilityNotFound    = "capability_not_found"
	ErrInvocationFailed      = "invocation_failed"
	ErrTimeout               = "timeout"
	ErrSerializationFailed   = "serialization_failed"
	ErrDeserializationFailed = "deserialization_failed"
	ErrInvalidArgument       = "invalid_argument"
	ErrNotFound              = "not_found"
	ErrInternal              = "internal_error"
)

// InvocationPayload is a cross-transport invocation request.
type InvocationPayload struct {
	InvocationID     string `json:"invocationID"`
	TargetCapability string `json:"target"`
	Arguments        []byte `json:"arguments"`
	Timestamp        string `json:"timestamp"`
}

// InvocationResponse is a cross-transport invocation result.
type InvocationResponse struct {
	InvocationID string  `json:"invocationID"`
	Success      bool    `json:"success"`
	Result       []byte  `json:"result,omitempty"`
	ErrorCode    *string `json:"errorCode,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// NewErrorResponse builds a failed InvocationResponse with a canonical code.
func NewErrorResponse(invocationID, code, message string) InvocationResponse {
	return InvocationResponse{
		InvocationID: invocationID,
		Success:      false,
		ErrorCode:    &code,
		ErrorMessage: &message,
	}
}

// RunRequest is one inbound message on the run-loop transport. Kind selects
// the payload: Text for a text request, ApprovalResponse for an approval
// response; a cancel request carries no payload beyond TurnID.
type RunRequest struct {
	TurnID           string            `json:"turnId"`
	Kind             RunRequestKind    `json:"kind"`
	Text             string            `json:"text,omitempty"`
	ApprovalResponse *ApprovalResponse `json:"approvalResponse,omitempty"`
}

// RunRequestKind discriminates RunRequest's payload.
type RunRequestKind string

const (
	RunRequestText             RunRequestKind = "text"
	RunRequestCancel           RunRequestKind = "cancel"
	RunRequestApprovalResponse RunRequestKind = "approval_response"
)

// ApprovalResponse answers an outstanding approval request (spec §9.3).
type ApprovalResponse struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// RunEventKind discriminates RunEvent's payload.
type RunEventKind string

const (
	RunEventStarted           RunEventKind = "runStarted"
	RunEventTokenDelta        RunEventKind = "tokenDelta"
	RunEventToolCallStarted   RunEventKind = "toolCallStarted"
	RunEventToolCallCompleted RunEventKind = "toolCallCompleted"
	RunEventWarning           RunEventKind = "warning"
	RunEventCompleted         RunEventKind = "runCompleted"
)

// TurnStatus is the terminal state reported in a runCompleted event.
type TurnStatus string

const (
	TurnCompleted TurnStatus = "completed"
	TurnCancelled TurnStatus = "cancelled"
	TurnFailed    TurnStatus = "failed"
	TurnStopped   TurnStatus = "stopped"
)

// RunEvent is one outbound message on the run-loop transport.
type RunEvent struct {
	TurnID      string       `json:"turnId"`
	Kind        RunEventKind `json:"kind"`
	Delta       string       `json:"delta,omitempty"`
	ToolName    string       `json:"toolName,omitempty"`
	WarningCode string       `json:"warningCode,omitempty"`
	Status      TurnStatus   `json:"status,omitempty"`
	FinalOutput string       `json:"finalOutput,omitempty"`
	Error       string       `json:"error,omitempty"`
}
