package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnvelopeExtractsType(t *testing.T) {
	typ, err := ParseEnvelope([]byte(`{"type":"run","language":"python"}`))
	require.NoError(t, err)
	require.Equal(t, VerbRun, typ)
}

func TestParseEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestParseEnvelopeMissingTypeIsEmptyString(t *testing.T) {
	typ, err := ParseEnvelope([]byte(`{"language":"python"}`))
	require.NoError(t, err)
	require.Empty(t, typ)
}

func TestNewRejectedFrameRoundTrips(t *testing.T) {
	f := NewRejectedFrame("busy", "a job is already running")
	require.Equal(t, FrameRejected, f.Type)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var decoded RejectedFrame
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, f, decoded)
}

func TestNewExitFrameSetsType(t *testing.T) {
	f := NewExitFrame(1, "crash")
	require.Equal(t, FrameExit, f.Type)
	require.Equal(t, 1, f.Code)
	require.Equal(t, "crash", f.Reason)
}

func TestNewOutputFrameCarriesRawBytesAsString(t *testing.T) {
	f := NewOutputFrame(FrameStdout, []byte("hello"), 1234)
	require.Equal(t, FrameStdout, f.Type)
	require.Equal(t, "hello", f.Data)
	require.Equal(t, int64(1234), f.TsMs)
}
