package cache

import (
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
)

// Requires a running memcached instance; skipped when none is available.
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")

	_, err := mc.client.Get("availability_check")
	if err != nil && err != memcache.ErrCacheMiss {
		t.Skip("Memcached is not available, skipping test")
	}

	// A cool-down key round-trips
	err = mc.Set("olx_rate_limited", []byte("300"), 1*time.Second)
	assert.NoError(t, err)

	value, err := mc.Get("olx_rate_limited")
	assert.NoError(t, err)
	assert.Equal(t, "300", string(value))

	// Deleting ends the cool-down: the key reads as missing again
	err = mc.Delete("olx_rate_limited")
	assert.NoError(t, err)

	_, err = mc.Get("olx_rate_limited")
	assert.Error(t, err)
}
