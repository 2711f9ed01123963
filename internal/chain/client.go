package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Web3ok/bsc-sub000/internal/money"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/platform/resilience"
)

// Client is the chain facade: contract reads the routing and execution
// layers need, plus transaction broadcast and receipt polling. All calls go
// through the pool's weighted rotation and rate limiting.
type Client struct {
	pool    *Pool
	chainID *big.Int
	logger  *observability.Logger
	metrics *observability.Metrics

	// Suggested gas price is cached briefly; BSC gas right now moves slowly
	// enough that a per-operation fetch is waste
	gasTTL      time.Duration
	maxGasPrice *big.Int
	gasMu       sync.Mutex
	gasPrice    *big.Int
	gasFetched  time.Time
}

// ClientConfig holds chain client configuration
type ClientConfig struct {
	Pool            *Pool
	ChainID         int64
	GasPriceTTL     time.Duration
	MaxGasPriceGwei int64
	Logger          *observability.Logger
	Metrics         *observability.Metrics
}

// NewClient creates the chain facade over an RPC pool.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("RPC pool is required")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if cfg.GasPriceTTL <= 0 {
		cfg.GasPriceTTL = 3 * time.Second
	}

	var maxGas *big.Int
	if cfg.MaxGasPriceGwei > 0 {
		maxGas = money.Gwei(cfg.MaxGasPriceGwei).ToWei()
	}

	return &Client{
		pool:        cfg.Pool,
		chainID:     big.NewInt(cfg.ChainID),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		gasTTL:      cfg.GasPriceTTL,
		maxGasPrice: maxGas,
	}, nil
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// PairReserves reads a V2 pair's current reserves.
func (c *Client) PairReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	raw, err := c.ethCall(ctx, pool, pairABI, "getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pair reserves %s: %w", pool.Hex(), err)
	}
	return unpackReserves(raw)
}

// PoolState reads a V3 pool's current sqrt price and in-range liquidity.
func (c *Client) PoolState(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	rawSlot, err := c.ethCall(ctx, pool, poolABI, "slot0")
	if err != nil {
		return nil, nil, fmt.Errorf("pool slot0 %s: %w", pool.Hex(), err)
	}
	sqrtPriceX96, err := unpackSqrtPrice(rawSlot)
	if err != nil {
		return nil, nil, fmt.Errorf("pool slot0 %s: %w", pool.Hex(), err)
	}

	rawLiq, err := c.ethCall(ctx, pool, poolABI, "liquidity")
	if err != nil {
		return nil, nil, fmt.Errorf("pool liquidity %s: %w", pool.Hex(), err)
	}
	liquidity, err := unpackLiquidity(rawLiq)
	if err != nil {
		return nil, nil, fmt.Errorf("pool liquidity %s: %w", pool.Hex(), err)
	}

	return sqrtPriceX96, liquidity, nil
}

// TokenMetadata reads an ERC-20's symbol and decimals.
func (c *Client) TokenMetadata(ctx context.Context, addr common.Address) (string, uint8, error) {
	rawSymbol, err := c.ethCall(ctx, addr, erc20ABI, "symbol")
	if err != nil {
		return "", 0, fmt.Errorf("token symbol %s: %w", addr.Hex(), err)
	}
	symbol, err := unpackString(erc20ABI, "symbol", rawSymbol)
	if err != nil {
		return "", 0, fmt.Errorf("token symbol %s: %w", addr.Hex(), err)
	}

	rawDecimals, err := c.ethCall(ctx, addr, erc20ABI, "decimals")
	if err != nil {
		return "", 0, fmt.Errorf("token decimals %s: %w", addr.Hex(), err)
	}
	decimals, err := unpackUint8(erc20ABI, "decimals", rawDecimals)
	if err != nil {
		return "", 0, fmt.Errorf("token decimals %s: %w", addr.Hex(), err)
	}

	return symbol, decimals, nil
}

// Allowance reads the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	raw, err := c.ethCall(ctx, token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token.Hex(), err)
	}
	return unpackBig(erc20ABI, "allowance", raw)
}

// BalanceOf reads the ERC-20 balance of account.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	raw, err := c.ethCall(ctx, token, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("balance %s: %w", token.Hex(), err)
	}
	return unpackBig(erc20ABI, "balanceOf", raw)
}

// PendingNonce returns the account's pending transaction count.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	client, url, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	nonce, err := client.PendingNonceAt(ctx, account)
	c.record(ctx, "eth_getTransactionCount", url, start, err)
	if err != nil {
		return 0, fmt.Errorf("pending nonce %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

// SuggestedGasPrice returns the node's suggested gas price, cached for the
// configured TTL and capped at the configured maximum.
func (c *Client) SuggestedGasPrice(ctx context.Context) (*big.Int, error) {
	c.gasMu.Lock()
	if c.gasPrice != nil && time.Since(c.gasFetched) < c.gasTTL {
		cached := new(big.Int).Set(c.gasPrice)
		c.gasMu.Unlock()
		return cached, nil
	}
	c.gasMu.Unlock()

	client, url, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	price, err := client.SuggestGasPrice(ctx)
	c.record(ctx, "eth_gasPrice", url, start, err)
	if err != nil {
		return nil, fmt.Errorf("suggested gas price: %w", err)
	}

	price = capGasPrice(price, c.maxGasPrice)

	c.gasMu.Lock()
	c.gasPrice = new(big.Int).Set(price)
	c.gasFetched = time.Now()
	c.gasMu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordGasPrice(ctx, money.GweiFromWei(price).Float64())
	}

	return price, nil
}

// Broadcast submits a signed transaction to the network.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) error {
	client, url, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	err = client.SendTransaction(ctx, tx)
	c.record(ctx, "eth_sendRawTransaction", url, start, err)

	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordBroadcast(ctx, status)
	}

	if err != nil {
		return fmt.Errorf("broadcast %s: %w", tx.Hash().Hex(), err)
	}

	if c.logger != nil {
		c.logger.LogDebug(ctx, "transaction broadcast",
			"tx_hash", tx.Hash().Hex(),
			"nonce", tx.Nonce(),
		)
	}

	return nil
}

// Receipt fetches a transaction receipt. Returns ethereum.NotFound while the
// transaction is still pending.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	client, url, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, err := client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		// The RPC worked; there is just no receipt yet
		c.record(ctx, "eth_getTransactionReceipt", url, start, nil)
		return nil, ethereum.NotFound
	}
	c.record(ctx, "eth_getTransactionReceipt", url, start, err)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
	}
	return receipt, nil
}

// WaitReceipt polls for a receipt until it lands or ctx ends. Transient RPC
// failures keep the poll alive; the transaction may confirm regardless.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.Receipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ethereum.NotFound) && c.logger != nil {
			c.logger.LogDebug(ctx, "receipt poll failed, retrying",
				"tx_hash", txHash.Hex(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ethCall packs and executes a read-only contract call, returning the raw
// return data.
func (c *Client) ethCall(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	client, url, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	c.record(ctx, "eth_call", url, start, err)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// record reports the RPC call to metrics, feeds the endpoint's adaptive
// limiter, and flags endpoints that fail with non-throttling errors.
func (c *Client) record(ctx context.Context, method, url string, start time.Time, err error) {
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPCCall(ctx, method, status, time.Since(start))
	}

	if ctx.Err() != nil {
		return
	}
	c.pool.Observe(url, err)

	if err == nil {
		return
	}
	// Throttling and reverts say nothing about endpoint health
	if resilience.IsRateLimited(err) || !resilience.IsRetryable(err) {
		return
	}
	c.pool.MarkUnhealthy(url)
}

func capGasPrice(price, max *big.Int) *big.Int {
	if max == nil || price == nil {
		return price
	}
	if price.Cmp(max) > 0 {
		return new(big.Int).Set(max)
	}
	return price
}

func unpackReserves(raw []byte) (*big.Int, *big.Int, error) {
	out, err := pairABI.Unpack("getReserves", raw)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	if len(out) < 2 {
		return nil, nil, fmt.Errorf("unpack getReserves: %d outputs", len(out))
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unpack getReserves: unexpected output types")
	}
	return reserve0, reserve1, nil
}

func unpackSqrtPrice(raw []byte) (*big.Int, error) {
	out, err := poolABI.Unpack("slot0", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack slot0: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack slot0: empty output")
	}
	sqrtPriceX96, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack slot0: unexpected output type")
	}
	return sqrtPriceX96, nil
}

func unpackLiquidity(raw []byte) (*big.Int, error) {
	return unpackBig(poolABI, "liquidity", raw)
}

func unpackBig(contractABI abi.ABI, method string, raw []byte) (*big.Int, error) {
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack %s: empty output", method)
	}
	val, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected output type", method)
	}
	return val, nil
}

func unpackString(contractABI abi.ABI, method string, raw []byte) (string, error) {
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("unpack %s: empty output", method)
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unpack %s: unexpected output type", method)
	}
	return s, nil
}

func unpackUint8(contractABI abi.ABI, method string, raw []byte) (uint8, error) {
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("unpack %s: empty output", method)
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unpack %s: unexpected output type", method)
	}
	return v, nil
}
