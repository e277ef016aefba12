package permissionless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionModeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mode ExecutionMode
	}{
		{"call", ExecutionMode{Type: CallTypeCall, Context: []byte{}}},
		{"batchcall revert", ExecutionMode{Type: CallTypeBatchCall, RevertOnError: true, Context: []byte{}}},
		{"delegatecall", ExecutionMode{Type: CallTypeDelegateCall, Context: []byte{}}},
		{"selector and context", ExecutionMode{
			Type:     CallTypeBatchCall,
			Selector: [4]byte{0xde, 0xad, 0xbe, 0xef},
			Context:  []byte{0x01, 0x02, 0x03},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeExecutionMode(tt.mode)
			require.NoError(t, err)
			decoded, err := DecodeExecutionMode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, decoded)
		})
	}
}

func TestDecodeExecutionModeEmptyContext(t *testing.T) {
	encoded, err := EncodeExecutionMode(ExecutionMode{Type: CallTypeBatchCall})
	require.NoError(t, err)
	decoded, err := DecodeExecutionMode(encoded)
	require.NoError(t, err)
	assert.NotNil(t, decoded.Context)
	assert.Empty(t, decoded.Context)
}

func TestEncodeExecutionModeLayout(t *testing.T) {
	encoded, err := EncodeExecutionMode(ExecutionMode{
		Type:          CallTypeBatchCall,
		RevertOnError: true,
		Selector:      [4]byte{0xaa, 0xbb, 0xcc, 0xdd},
		Context:       []byte{0x11},
	})
	require.NoError(t, err)

	assert.Equal(t, byte(0x01), encoded[0])
	assert.Equal(t, byte(0x01), encoded[1])
	assert.Equal(t, byte(0x00), encoded[2])
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, encoded[3:7])
	assert.Equal(t, byte(0x11), encoded[7])
	assert.Equal(t, make([]byte, 24), encoded[8:])
}

func TestEncodeExecutionModeDefaultIsZero(t *testing.T) {
	encoded, err := EncodeExecutionMode(ExecutionMode{Type: CallTypeCall})
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, encoded)
}

func TestEncodeExecutionModeTruncatesContext(t *testing.T) {
	context := make([]byte, ExecutionModeContextSize+5)
	for i := range context {
		context[i] = 0x42
	}
	encoded, err := EncodeExecutionMode(ExecutionMode{Type: CallTypeCall, Context: context})
	require.NoError(t, err)

	decoded, err := DecodeExecutionMode(encoded)
	require.NoError(t, err)
	assert.Equal(t, context[:ExecutionModeContextSize], decoded.Context)
}

func TestExecutionModeInvalidCallType(t *testing.T) {
	_, err := EncodeExecutionMode(ExecutionMode{Type: CallType(0x02)})
	require.ErrorIs(t, err, ErrInvalidCallType)

	var raw [32]byte
	raw[0] = 0x7f
	_, err = DecodeExecutionMode(raw)
	require.ErrorIs(t, err, ErrInvalidCallType)
}

func TestCallTypeString(t *testing.T) {
	assert.Equal(t, "call", CallTypeCall.String())
	assert.Equal(t, "batchcall", CallTypeBatchCall.String())
	assert.Equal(t, "delegatecall", CallTypeDelegateCall.String())
	assert.Equal(t, "unknown(0x05)", CallType(0x05).String())
}
