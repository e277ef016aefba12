package permissionless

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserOperationValidate(t *testing.T) {
	tests := []struct {
		name    string
		userOp  *UserOperation
		wantErr error
	}{
		{
			name:   "v0.6 with initCode",
			userOp: &UserOperation{Version: EntryPointV06, InitCode: []byte{0x01}, PaymasterAndData: []byte{0x02}},
		},
		{
			name:    "v0.6 with factory",
			userOp:  &UserOperation{Version: EntryPointV06, Factory: testFactory},
			wantErr: ErrInitCodeConflict,
		},
		{
			name:    "v0.6 with paymaster gas limit",
			userOp:  &UserOperation{Version: EntryPointV06, PaymasterPostOpGasLimit: big.NewInt(1)},
			wantErr: ErrPaymasterConflict,
		},
		{
			name:   "v0.7 with split fields",
			userOp: sampleUserOp(EntryPointV07),
		},
		{
			name:    "v0.7 with initCode",
			userOp:  &UserOperation{Version: EntryPointV07, InitCode: []byte{0x01}},
			wantErr: ErrInitCodeConflict,
		},
		{
			name:    "v0.8 with paymasterAndData",
			userOp:  &UserOperation{Version: EntryPointV08, PaymasterAndData: []byte{0x01}},
			wantErr: ErrPaymasterConflict,
		},
		{
			name:    "missing version",
			userOp:  &UserOperation{},
			wantErr: ErrUnsupportedEntryPoint,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.userOp.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUserOperationWithDefaults(t *testing.T) {
	userOp := &UserOperation{Version: EntryPointV07, Sender: callTarget1, Nonce: big.NewInt(4)}

	filled := userOp.WithDefaults()
	assert.Equal(t, int64(4), filled.Nonce.Int64())
	assert.NotSame(t, userOp.Nonce, filled.Nonce)
	assert.Equal(t, 0, filled.CallGasLimit.Sign())
	assert.Equal(t, 0, filled.PaymasterPostOpGasLimit.Sign())
	assert.NotNil(t, filled.CallData)
	assert.NotNil(t, filled.PaymasterData)
	assert.Nil(t, filled.InitCode)

	filled.Nonce.SetInt64(100)
	assert.Equal(t, int64(4), userOp.Nonce.Int64())
	assert.Nil(t, userOp.CallGasLimit)
	assert.Nil(t, userOp.CallData)
}

func TestUserOperationHasFactoryAndPaymaster(t *testing.T) {
	v6 := &UserOperation{Version: EntryPointV06, InitCode: []byte{0x01}, PaymasterAndData: testPaymaster.Bytes()}
	assert.True(t, v6.HasFactory())
	assert.True(t, v6.HasPaymaster())

	v7 := &UserOperation{Version: EntryPointV07}
	assert.False(t, v7.HasFactory())
	assert.False(t, v7.HasPaymaster())

	v7.Factory, v7.Paymaster = testFactory, testPaymaster
	assert.True(t, v7.HasFactory())
	assert.True(t, v7.HasPaymaster())
}

func TestUserOperationToBody(t *testing.T) {
	body := sampleUserOp(EntryPointV07).ToBody()
	assert.Equal(t, callTarget1.Hex(), body["sender"])
	assert.Equal(t, "0x7", body["nonce"])
	assert.Equal(t, "0xe9ae5c53", body["callData"])
	assert.Equal(t, testFactory.Hex(), body["factory"])
	assert.Equal(t, "0xabcdef", body["paymasterData"])
	assert.Equal(t, "0x10", body["paymasterPostOpGasLimit"])
	assert.NotContains(t, body, "initCode")

	empty := (&UserOperation{Version: EntryPointV08}).ToBody()
	assert.Equal(t, "0x0", empty["nonce"])
	assert.Equal(t, "0x", empty["callData"])
	assert.NotContains(t, empty, "factory")
	assert.NotContains(t, empty, "paymaster")

	v6 := (&UserOperation{Version: EntryPointV06}).ToBody()
	assert.Equal(t, "0x", v6["initCode"])
	assert.Equal(t, "0x", v6["paymasterAndData"])
}

func TestUserOpFromBody(t *testing.T) {
	userOp := sampleUserOp(EntryPointV07)

	parsed, err := UserOpFromBody(EntryPointV07, userOp.ToBody())
	require.NoError(t, err)
	assert.Equal(t, userOp.ToBody(), parsed.ToBody())
	assert.Equal(t, testPaymaster, parsed.Paymaster)

	_, err = UserOpFromBody(EntryPointV07, map[string]string{"nonce": "zz"})
	require.Error(t, err)

	_, err = UserOpFromBody(EntryPointV07, map[string]string{"sender": "0x1234"})
	require.Error(t, err)

	_, err = UserOpFromBody(EntryPointV07, map[string]string{"initCode": "0x01"})
	require.ErrorIs(t, err, ErrInitCodeConflict)
}

func TestNewUserOpWithDefault(t *testing.T) {
	v7 := NewUserOpWithDefault(EntryPointV07, callTarget1, []byte{0x01})
	assert.Equal(t, DefaultCallGasLimit, v7.CallGasLimit.Int64())
	assert.Equal(t, DefaultPaymasterVerificationGasLimit, v7.PaymasterVerificationGasLimit.Int64())
	require.NoError(t, v7.Validate())

	v6 := NewUserOpWithDefault(EntryPointV06, callTarget1, nil)
	assert.Nil(t, v6.PaymasterVerificationGasLimit)
	require.NoError(t, v6.Validate())
	assert.Equal(t, common.Address{}, v6.Paymaster)
}

func TestConfigVersion(t *testing.T) {
	assert.Equal(t, EntryPointV07, (&Config{}).Version())
	assert.Equal(t, EntryPointV08, (&Config{EntrypointVersion: EntryPointV08}).Version())
}
