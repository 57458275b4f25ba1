package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/chai/types"
)

func TestValidateMemoInput(t *testing.T) {
	tests := []struct {
		name    string
		inName  string
		inMsg   string
		wantErr bool
		want    types.MemoInput
	}{
		{name: "both set", inName: "Ada", inMsg: "Thanks!", want: types.MemoInput{Name: "Ada", Message: "Thanks!"}},
		{name: "trimmed", inName: "  Ada\t", inMsg: "\nThanks! ", want: types.MemoInput{Name: "Ada", Message: "Thanks!"}},
		{name: "empty name", inName: "", inMsg: "hi", wantErr: true},
		{name: "blank name", inName: "   ", inMsg: "hi", wantErr: true},
		{name: "empty message", inName: "Ada", inMsg: "", wantErr: true},
		{name: "both blank", inName: " ", inMsg: "\t", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateMemoInput(tt.inName, tt.inMsg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsCode(err, types.ErrValidation))
				assert.Contains(t, err.Error(), ValidationNotice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.001")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e15), wei)

	wei, err = ParseEther("1")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", wei.String())

	for _, bad := range []string{"", "abc", "0", "-1", "0.0000000000000000001"} {
		_, err := ParseEther(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.001", FormatEther(big.NewInt(1e15)))
	assert.Equal(t, "0", FormatEther(nil))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(types.DefaultContractAddress)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultContractAddress, addr.Hex())

	_, err = ParseAddress("0x123")
	assert.Error(t, err)
}
