package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedProtocolVersion(t *testing.T) {
	assert.True(t, IsSupportedProtocolVersion(LatestProtocolVersion))
	assert.True(t, IsSupportedProtocolVersion("2024-11-05"))
	assert.False(t, IsSupportedProtocolVersion("2023-01-01"))
}

func TestServerCapabilitiesOmitsAbsentFeatures(t *testing.T) {
	caps := ServerCapabilities{
		Tools: &ToolsCapability{ListChanged: true},
	}

	encoded, err := json.Marshal(caps)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":{"listChanged":true}}`, string(encoded))
}

func TestInitializeParamsRoundTrip(t *testing.T) {
	params := InitializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities: ClientCapabilities{
			Roots:    &RootsCapability{ListChanged: true},
			Sampling: &SamplingCapability{},
		},
		ClientInfo: Implementation{Name: "test-client", Version: "0.1.0"},
	}

	encoded, err := json.Marshal(params)
	require.NoError(t, err)

	var decoded InitializeParams
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, params, decoded)
}

func TestCancelledParamsWire(t *testing.T) {
	var params CancelledParams
	raw := `{"requestId":12,"reason":"deadline exceeded"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &params))
	assert.Equal(t, NewIntID(12), params.RequestID)
	assert.Equal(t, "deadline exceeded", params.Reason)
}
