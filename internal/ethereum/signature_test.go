package ethereum

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestParseEventSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		canonical string
		wantErr   bool
	}{
		{name: "canonical", signature: "Transfer(address,address,uint256)", canonical: "Transfer(address,address,uint256)"},
		{
			name:      "with names and indexed",
			signature: "Transfer(address indexed from, address indexed to, uint256 value)",
			canonical: "Transfer(address,address,uint256)",
		},
		{name: "indexed without name", signature: "Approval(address indexed, address, uint256)", canonical: "Approval(address,address,uint256)"},
		{name: "no parameters", signature: "Initialized()", canonical: "Initialized()"},
		{name: "arrays", signature: "Batch(address[] to, uint256[3] amounts)", canonical: "Batch(address[],uint256[3])"},
		{name: "tuple", signature: "Order((address,uint256) order, bytes32 id)", canonical: "Order((address,uint256),bytes32)"},
		{name: "surrounding space", signature: "  Sync(uint112 reserve0, uint112 reserve1) ", canonical: "Sync(uint112,uint112)"},
		{name: "missing parenthesis", signature: "Transfer", wantErr: true},
		{name: "trailing garbage", signature: "Transfer(address) x", wantErr: true},
		{name: "empty name", signature: "(address)", wantErr: true},
		{name: "unknown type", signature: "Transfer(adress)", wantErr: true},
		{name: "bad int width", signature: "Transfer(uint7)", wantErr: true},
		{name: "too many words", signature: "Transfer(address indexed from extra)", wantErr: true},
		{name: "empty parameter", signature: "Transfer(address,)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseEventSignature(tt.signature)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.canonical, sig.Canonical())
		})
	}
}

func TestEventSignature_Topic(t *testing.T) {
	sig, err := ParseEventSignature("Transfer(address indexed from, address indexed to, uint256 value)")
	require.NoError(t, err)

	// well known ERC20 Transfer selector
	require.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		sig.Topic().Hex())
	require.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), sig.Topic())
}
