package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/sync/singleflight"
)

// cacheableMethods is the fixed set of side-effect-free RPC methods
// the cache wrapper memoizes, per §4.4.
var cacheableMethods = map[string]bool{
	"eth_call":          true,
	"eth_getBalance":    true,
	"eth_getCode":       true,
	"eth_getStorageAt":  true,
}

// maxUint256 is the block-number normalization target for the string
// "latest": stored so large that "latest" reads never collide with a
// historical blockNumber, yet still sort after every one of them.
var maxUint256 = func() *big.Int {
	n := new(big.Int).Lsh(big.NewInt(1), 256)
	return n.Sub(n, big.NewInt(1))
}()

// CacheStore persists and retrieves cache entries, keyed by
// (chainId, blockNumber, request) per §6's RPC cache entry schema.
type CacheStore interface {
	Get(ctx context.Context, chainID int64, blockNumber *big.Int, key string) (string, bool, error)
	Put(ctx context.Context, chainID int64, blockNumber *big.Int, key, result string) error
}

// Cache wraps a Transport, memoizing cacheableMethods calls through a
// CacheStore and collapsing concurrent identical requests with a
// singleflight group, per §4.4.
type Cache struct {
	inner Transport
	store CacheStore
	chain int64
	group singleflight.Group
}

// NewCache wraps inner with cache-backed reads for chain chainID.
func NewCache(inner Transport, store CacheStore, chainID int64) *Cache {
	return &Cache{inner: inner, store: store, chain: chainID}
}

// Call implements Transport. Non-cacheable methods and malformed
// envelopes bypass the cache entirely.
func (c *Cache) Call(ctx context.Context, network string, req Request) (Response, error) {
	if !cacheableMethods[req.Method] {
		return c.inner.Call(ctx, network, req)
	}

	key, blockArg, err := cacheKey(req)
	if err != nil {
		return c.inner.Call(ctx, network, req)
	}
	blockNumber := normalizeBlock(blockArg)

	sfKey := fmt.Sprintf("%d:%s:%s", c.chain, blockNumber.String(), key)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		if cached, ok, err := c.store.Get(ctx, c.chain, blockNumber, key); err == nil && ok {
			return Response{Result: cached}, nil
		}

		resp, err := c.inner.Call(ctx, network, req)
		if err != nil {
			return Response{}, err
		}

		result := fmt.Sprint(resp.Result)
		_ = c.store.Put(ctx, c.chain, blockNumber, key, result)
		return resp, nil
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

// cacheKey builds the method-specific cache key tail from §4.4's table
// and returns the request's block argument (its last parameter, by
// JSON-RPC convention for these four methods).
func cacheKey(req Request) (key string, blockArg any, err error) {
	lower := func(v any) string { return strings.ToLower(fmt.Sprint(v)) }

	switch req.Method {
	case "eth_call":
		if len(req.Params) < 2 {
			return "", nil, fmt.Errorf("rpc cache: eth_call requires 2 params")
		}
		call, _ := req.Params[0].(map[string]any)
		return fmt.Sprintf("call_%s_%s", lower(call["to"]), lower(call["data"])), req.Params[1], nil
	case "eth_getBalance":
		if len(req.Params) < 2 {
			return "", nil, fmt.Errorf("rpc cache: eth_getBalance requires 2 params")
		}
		return fmt.Sprintf("balance_%s", lower(req.Params[0])), req.Params[1], nil
	case "eth_getCode":
		if len(req.Params) < 2 {
			return "", nil, fmt.Errorf("rpc cache: eth_getCode requires 2 params")
		}
		return fmt.Sprintf("code_%s", lower(req.Params[0])), req.Params[1], nil
	case "eth_getStorageAt":
		if len(req.Params) < 3 {
			return "", nil, fmt.Errorf("rpc cache: eth_getStorageAt requires 3 params")
		}
		return fmt.Sprintf("storage_%s_%s", lower(req.Params[0]), lower(req.Params[1])), req.Params[2], nil
	default:
		return "", nil, fmt.Errorf("rpc cache: method %s is not cacheable", req.Method)
	}
}

// normalizeBlock converts a hex block number to its numeric value, or
// maxUint256 for the string "latest" (§4.4).
func normalizeBlock(arg any) *big.Int {
	s, ok := arg.(string)
	if !ok {
		return new(big.Int)
	}
	if s == "latest" {
		return maxUint256
	}
	s = strings.TrimPrefix(s, "0x")
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return new(big.Int)
	}
	return n
}
