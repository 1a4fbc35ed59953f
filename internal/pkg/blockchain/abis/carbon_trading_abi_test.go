package abis

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestGetCarbonTradingABI(t *testing.T) {
	parsed, err := GetCarbonTradingABI()
	if err != nil {
		t.Fatalf("GetCarbonTradingABI() error = %v", err)
	}

	tests := []struct {
		method  string
		inputs  int
		outputs int
	}{
		{MethodCreateOrder, 5, 1},
		{MethodMatchOrders, 4, 0},
		{MethodGetOrderInfo, 1, 7},
		{MethodGetPositionInfo, 2, 4},
		{MethodGetMarketData, 1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			m, ok := parsed.Methods[tt.method]
			if !ok {
				t.Fatalf("method %s missing", tt.method)
			}
			if len(m.Inputs) != tt.inputs {
				t.Errorf("%s inputs = %d, want %d", tt.method, len(m.Inputs), tt.inputs)
			}
			if len(m.Outputs) != tt.outputs {
				t.Errorf("%s outputs = %d, want %d", tt.method, len(m.Outputs), tt.outputs)
			}
		})
	}
}

func TestCarbonTradingABI_PackMatchOrders(t *testing.T) {
	parsed, err := GetCarbonTradingABI()
	if err != nil {
		t.Fatalf("GetCarbonTradingABI() error = %v", err)
	}
	data, err := parsed.Pack(MethodMatchOrders, big.NewInt(1), big.NewInt(2), []byte{0xaa}, make([]byte, 65))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(data) < 4 || common.Bytes2Hex(data[:4]) != common.Bytes2Hex(parsed.Methods[MethodMatchOrders].ID) {
		t.Errorf("calldata does not start with matchOrders selector")
	}
}

func TestParseABI_Invalid(t *testing.T) {
	if _, err := ParseABI("not json"); err == nil {
		t.Error("expected error for invalid ABI JSON")
	}
}
