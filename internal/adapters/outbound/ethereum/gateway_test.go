package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/blockchain/abis"
	"github.com/archon-research/carbon-dex/internal/pkg/retry"
)

var contractAddr = common.HexToAddress("0x00000000000000000000000000000000000c0de0")

type fakeBackend struct {
	callFunc func(msg ethereum.CallMsg) ([]byte, error)
	sendErrs []error
	sent     []*types.Transaction
	nonce    uint64
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callFunc(msg)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func newTestGateway(t *testing.T, b *fakeBackend) *Gateway {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGateway(b, Config{
		Contract:    contractAddr,
		ChainID:     big.NewInt(11155111),
		OperatorKey: key,
		Retry:       retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNewGateway_Validation(t *testing.T) {
	key, _ := crypto.GenerateKey()
	tests := []struct {
		name    string
		backend Backend
		cfg     Config
	}{
		{"nil backend", nil, Config{Contract: contractAddr, ChainID: big.NewInt(1), OperatorKey: key}},
		{"no contract", &fakeBackend{}, Config{ChainID: big.NewInt(1), OperatorKey: key}},
		{"no chain", &fakeBackend{}, Config{Contract: contractAddr, OperatorKey: key}},
		{"no key", &fakeBackend{}, Config{Contract: contractAddr, ChainID: big.NewInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGateway(tt.backend, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMatchOrders_SignsDynamicFeeTx(t *testing.T) {
	b := &fakeBackend{nonce: 7}
	g := newTestGateway(t, b)

	hash, err := g.MatchOrders(context.Background(), 12, 34, []byte{0xaa}, []byte{0xbb})
	if err != nil {
		t.Fatalf("MatchOrders() error = %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(b.sent))
	}
	tx := b.sent[0]
	if tx.Hash() != hash || tx.Nonce() != 7 || tx.Type() != types.DynamicFeeTxType {
		t.Errorf("tx hash/nonce/type = %s/%d/%d", tx.Hash(), tx.Nonce(), tx.Type())
	}
	if tx.Gas() != 120_000 {
		t.Errorf("gas = %d, want 120000", tx.Gas())
	}
	if tx.GasFeeCap().Cmp(big.NewInt(22_000_000_000)) != 0 {
		t.Errorf("fee cap = %s", tx.GasFeeCap())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	if err != nil || sender != g.Operator() {
		t.Errorf("sender = %s, %v, want %s", sender, err, g.Operator())
	}

	method, err := g.abi.MethodById(tx.Data()[:4])
	if err != nil || method.Name != abis.MethodMatchOrders {
		t.Fatalf("method = %v, %v", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(*big.Int).Uint64() != 12 || args[1].(*big.Int).Uint64() != 34 {
		t.Errorf("order ids = %v %v", args[0], args[1])
	}
}

func TestTransact_RetriesTransientAndStopsOnRevert(t *testing.T) {
	b := &fakeBackend{sendErrs: []error{errors.New("connection reset")}}
	g := newTestGateway(t, b)
	if _, err := g.CreateOrder(context.Background(), "EU-CER-24Q4", []byte{1}, []byte{2}, []byte{3}, []byte{4}); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	b.sendErrs = []error{errors.New("execution reverted: order inactive"), nil}
	_, err := g.MatchOrders(context.Background(), 1, 2, nil, nil)
	if !errors.Is(err, entity.ErrUpstream) {
		t.Fatalf("MatchOrders() error = %v, want ErrUpstream", err)
	}
	if len(b.sendErrs) != 1 {
		t.Error("revert was retried")
	}
}

func TestGetOrderInfo_Unpacks(t *testing.T) {
	trader := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	b := &fakeBackend{}
	g := newTestGateway(t, b)
	b.callFunc = func(msg ethereum.CallMsg) ([]byte, error) {
		method := g.abi.Methods[abis.MethodGetOrderInfo]
		return method.Outputs.Pack(uint8(3), uint8(4), uint8(5), true, trader, big.NewInt(1727784000), "EU-CER-24Q4")
	}

	o, err := g.GetOrderInfo(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetOrderInfo() error = %v", err)
	}
	if o.ID != 9 || o.Trader != trader || !o.IsActive || o.Symbol != "EU-CER-24Q4" || o.Quantity != 3 {
		t.Errorf("order = %+v", o)
	}
	if !o.Timestamp.Equal(time.Unix(1727784000, 0)) {
		t.Errorf("timestamp = %s", o.Timestamp)
	}
}

func TestGetOrderInfo_ZeroTraderIsNotFound(t *testing.T) {
	b := &fakeBackend{}
	g := newTestGateway(t, b)
	b.callFunc = func(ethereum.CallMsg) ([]byte, error) {
		return g.abi.Methods[abis.MethodGetOrderInfo].Outputs.Pack(uint8(0), uint8(0), uint8(0), false, common.Address{}, big.NewInt(0), "")
	}
	if _, err := g.GetOrderInfo(context.Background(), 1); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetMarketData_Unpacks(t *testing.T) {
	b := &fakeBackend{}
	g := newTestGateway(t, b)
	b.callFunc = func(ethereum.CallMsg) ([]byte, error) {
		return g.abi.Methods[abis.MethodGetMarketData].Outputs.Pack(uint8(1), uint8(2), uint8(3), big.NewInt(100))
	}
	md, err := g.GetMarketData(context.Background(), "GLOBAL-VER")
	if err != nil {
		t.Fatal(err)
	}
	if md.CurrentPrice != 1 || md.Volume24h != 2 || md.OpenInterest != 3 || md.Symbol != "GLOBAL-VER" {
		t.Errorf("market data = %+v", md)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.New("execution reverted"), false},
		{errors.New("insufficient funds for gas * price + value"), false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("nonce too low"), true},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCreateOrder_PacksSealedFields(t *testing.T) {
	b := &fakeBackend{}
	g := newTestGateway(t, b)

	encQty, encPrice, encSide, proof := []byte{0x01, 0x02}, []byte{0x03}, []byte{0x04}, make([]byte, 65)
	if _, err := g.CreateOrder(context.Background(), "US-CCO-25Q1", encQty, encPrice, encSide, proof); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(b.sent))
	}
	tx := b.sent[0]
	if tx.To() == nil || *tx.To() != contractAddr {
		t.Errorf("tx to = %v, want %s", tx.To(), contractAddr)
	}
	method, err := g.abi.MethodById(tx.Data()[:4])
	if err != nil || method.Name != abis.MethodCreateOrder {
		t.Fatalf("method = %v, %v", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(string) != "US-CCO-25Q1" {
		t.Errorf("symbol = %v", args[0])
	}
	if got := args[1].([]byte); string(got) != string(encQty) {
		t.Errorf("encQuantity = %x, want %x", got, encQty)
	}
	if got := args[4].([]byte); len(got) != 65 {
		t.Errorf("proof length = %d, want 65", len(got))
	}
}

func TestGetPositionInfo_Unpacks(t *testing.T) {
	trader := common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	b := &fakeBackend{}
	g := newTestGateway(t, b)
	b.callFunc = func(msg ethereum.CallMsg) ([]byte, error) {
		method := g.abi.Methods[abis.MethodGetPositionInfo]
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		if args[0].(common.Address) != trader || args[1].(string) != "EU-CER-24Q4" {
			return nil, errors.New("unexpected call arguments")
		}
		return method.Outputs.Pack(uint8(6), uint8(7), uint8(8), big.NewInt(1727784000))
	}

	p, err := g.GetPositionInfo(context.Background(), trader, "EU-CER-24Q4")
	if err != nil {
		t.Fatalf("GetPositionInfo() error = %v", err)
	}
	if p.Trader != trader || p.Quantity != 6 || p.AveragePrice != 7 || p.UnrealizedPnL != 8 {
		t.Errorf("position = %+v", p)
	}
	if !p.LastUpdated.Equal(time.Unix(1727784000, 0)) {
		t.Errorf("last updated = %s", p.LastUpdated)
	}
}
