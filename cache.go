package permissionless

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// AddressCache caches counterfactual smart account addresses.
// The implementation should be thread-safe.
type AddressCache interface {
	// Get retrieves the address from the cache.
	Get(key string) (common.Address, bool)

	// Set stores the address in the cache.
	// Returns true if an eviction occurred.
	Set(key string, addr common.Address) bool
}

type lruAddressCache struct {
	inner *lru.Cache
}

var _ AddressCache = &lruAddressCache{}

// NewLRUCache returns an AddressCache holding at most maxSize addresses.
func NewLRUCache(maxSize int) (AddressCache, error) {
	cache, err := lru.New(maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w, maxSize: %d", err, maxSize)
	}
	return &lruAddressCache{inner: cache}, nil
}

func (l *lruAddressCache) Get(key string) (common.Address, bool) {
	value, ok := l.inner.Get(key)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := value.(common.Address)
	return addr, ok
}

func (l *lruAddressCache) Set(key string, addr common.Address) bool {
	return l.inner.Add(key, addr)
}
