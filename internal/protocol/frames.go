// Package protocol defines the JSON envelopes exchanged over a session
// transport between a client and the execution orchestrator.
package protocol

import "encoding/json"

// Inbound verb discriminators.
const (
	VerbRun    = "run"
	VerbStdin  = "stdin"
	VerbCancel = "cancel"
)

// Outbound frame discriminators.
const (
	FrameStdout   = "stdout"
	FrameStderr   = "stderr"
	FrameSystem   = "system"
	FrameExit     = "exit"
	FrameRejected = "rejected"
)

// Envelope is the outer shape of every message on the session transport;
// "type" discriminates which payload follows.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// File is one source file submitted with a run request.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Entry   bool   `json:"entry"`
}

// Limits bounds a single execution's resource profile. Zero values mean
// "use the server default" for that field.
type Limits struct {
	MemMB      int `json:"memMb,omitempty"`
	CPU        int `json:"cpu,omitempty"`
	DeadlineMs int `json:"deadlineMs,omitempty"`
}

// RunRequest is the c->s "run" payload.
type RunRequest struct {
	Language string  `json:"language"`
	Files    []File  `json:"files"`
	Limits   Limits  `json:"limits"`
}

// StdinRequest is the c->s "stdin" payload.
type StdinRequest struct {
	Data string `json:"data"`
}

// CancelRequest is the c->s "cancel" payload; it carries no fields.
type CancelRequest struct{}

// OutputFrame is the s->c shape shared by stdout/stderr/system frames.
type OutputFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
	TsMs int64  `json:"ts"`
}

// ExitFrame is the s->c "exit" payload, always the final frame of a job.
type ExitFrame struct {
	Type   string `json:"type"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// RejectedFrame is the s->c "rejected" payload, sent instead of Accepted
// when a run request fails validation before admission.
type RejectedFrame struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewOutputFrame(kind string, data []byte, tsMs int64) OutputFrame {
	return OutputFrame{Type: kind, Data: string(data), TsMs: tsMs}
}

func NewExitFrame(code int, reason string) ExitFrame {
	return ExitFrame{Type: FrameExit, Code: code, Reason: reason}
}

func NewRejectedFrame(kind, message string) RejectedFrame {
	return RejectedFrame{Type: FrameRejected, Kind: kind, Message: message}
}

// ParseEnvelope extracts the discriminator from a raw inbound message
// without decoding the full payload, so the caller can dispatch before
// unmarshalling the verb-specific body.
func ParseEnvelope(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}
