package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Web3ok/bsc-sub000/internal/platform/cache"
	"github.com/ethereum/go-ethereum/common"
)

// fakeReader serves canned metadata and counts chain reads.
type fakeReader struct {
	tokens map[common.Address]Token
	calls  int
	err    error
}

func (f *fakeReader) TokenMetadata(_ context.Context, addr common.Address) (string, uint8, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	t, ok := f.tokens[addr]
	if !ok {
		return "", 0, errors.New("no such token")
	}
	return t.Symbol, uint8(t.Decimals), nil
}

func newTestResolver(t *testing.T, reader *fakeReader) *Resolver {
	t.Helper()
	mem := cache.NewMemoryCache(16)
	t.Cleanup(func() { mem.Close() })

	r, err := NewResolver(ResolverConfig{
		Reader: reader,
		Cache:  mem,
	})
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r
}

func TestResolve_NativeSentinel(t *testing.T) {
	reader := &fakeReader{}
	r := newTestResolver(t, reader)

	got, err := r.Resolve(context.Background(), NativeAddress)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Symbol != "BNB" || got.Decimals != 18 {
		t.Errorf("expected BNB/18, got %s/%d", got.Symbol, got.Decimals)
	}
	if reader.calls != 0 {
		t.Errorf("native resolve should not hit the chain, got %d calls", reader.calls)
	}
}

func TestResolve_RegistryHitSkipsChain(t *testing.T) {
	reader := &fakeReader{}
	r := newTestResolver(t, reader)

	wbnb := common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	got, err := r.Resolve(context.Background(), wbnb)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Symbol != "WBNB" {
		t.Errorf("expected WBNB, got %s", got.Symbol)
	}
	if reader.calls != 0 {
		t.Errorf("registry hit should not hit the chain, got %d calls", reader.calls)
	}
}

func TestResolve_UnknownTokenCachedAfterFirstRead(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	reader := &fakeReader{tokens: map[common.Address]Token{
		addr: {Address: addr, Symbol: "XYZ", Decimals: 6},
	}}
	r := newTestResolver(t, reader)

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), addr)
		if err != nil {
			t.Fatalf("Resolve #%d failed: %v", i, err)
		}
		if got.Symbol != "XYZ" || got.Decimals != 6 {
			t.Errorf("Resolve #%d: expected XYZ/6, got %s/%d", i, got.Symbol, got.Decimals)
		}
	}

	if reader.calls != 1 {
		t.Errorf("expected exactly 1 chain read, got %d", reader.calls)
	}
}

func TestResolve_ReaderErrorPropagates(t *testing.T) {
	reader := &fakeReader{err: errors.New("rpc down")}
	r := newTestResolver(t, reader)

	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	_, err := r.Resolve(context.Background(), addr)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRegistry_KnownTokens(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		symbol   string
		decimals int
	}{
		{"WBNB", 18},
		{"BUSD", 18},
		{"USDT", 18},
		{"DOGE", 8},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			tok, ok := reg.BySymbol(tt.symbol)
			if !ok {
				t.Fatalf("%s not in registry", tt.symbol)
			}
			if tok.Decimals != tt.decimals {
				t.Errorf("%s: expected %d decimals, got %d", tt.symbol, tt.decimals, tok.Decimals)
			}
			byAddr, ok := reg.ByAddress(tok.Address)
			if !ok || byAddr.Symbol != tt.symbol {
				t.Errorf("address lookup for %s failed", tt.symbol)
			}
		})
	}
}

func TestToHuman_FromHuman_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"one token 18 decimals", "1000000000000000000", 18, "1"},
		{"one token 6 decimals", "1000000", 6, "1"},
		{"fraction 18 decimals", "10000000000000000", 18, "0.01"},
		{"fraction 8 decimals", "50000000", 8, "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			if !ok {
				t.Fatalf("bad raw amount %s", tt.raw)
			}

			human := ToHuman(raw, tt.decimals)
			if human.Text('f', -1) != tt.want {
				t.Errorf("ToHuman(%s, %d) = %s, want %s", tt.raw, tt.decimals, human.Text('f', -1), tt.want)
			}

			back := FromHuman(human, tt.decimals)
			if back.Cmp(raw) != 0 {
				t.Errorf("FromHuman round trip: got %s, want %s", back.String(), raw.String())
			}
		})
	}
}
