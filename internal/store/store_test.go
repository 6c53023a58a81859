package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory hash store speaking the few commands the
// registry issues.
type fakeRedis struct {
	mux    sync.Mutex
	hashes map[string]map[string][]byte
	open   int
}

func (f *fakeRedis) GetContext(context.Context) (redis.Conn, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.open++
	return &fakeConn{f: f}, nil
}

type fakeConn struct{ f *fakeRedis }

func (c *fakeConn) Close() error {
	c.f.mux.Lock()
	defer c.f.mux.Unlock()
	c.f.open--
	return nil
}

func (c *fakeConn) Err() error { return nil }

func toBytes(v interface{}) []byte {
	switch v := v.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	c.f.mux.Lock()
	defer c.f.mux.Unlock()
	if c.f.hashes == nil {
		c.f.hashes = map[string]map[string][]byte{}
	}
	h := c.f.hashes[string(toBytes(args[0]))]
	switch cmd {
	case "HSET":
		if h == nil {
			h = map[string][]byte{}
			c.f.hashes[string(toBytes(args[0]))] = h
		}
		h[string(toBytes(args[1]))] = toBytes(args[2])
		return int64(1), nil
	case "HGET":
		if v, ok := h[string(toBytes(args[1]))]; ok {
			return v, nil
		}
		return nil, nil
	case "HGETALL":
		var out []interface{}
		for k, v := range h {
			out = append(out, []byte(k), v)
		}
		return out, nil
	}
	return nil, errors.New("ERR unknown command " + cmd)
}

func (c *fakeConn) Send(string, ...interface{}) error { return errors.New("not supported") }
func (c *fakeConn) Flush() error                      { return nil }
func (c *fakeConn) Receive() (interface{}, error)     { return nil, errors.New("not supported") }

func exerciseRegistry(t *testing.T, r Registry) {
	ctx := context.Background()
	_, err := r.Get(ctx, "erc20")
	assert.ErrorIs(t, err, ErrNotFound)

	token := common.HexToAddress("0x1000000000000000000000000000000000000001")
	require.NoError(t, r.Put(ctx, &Entry{Name: "ERC20", Address: token}))
	require.NoError(t, r.Put(ctx, &Entry{Name: "storage", Address: common.HexToAddress("0x02"), ABI: json.RawMessage(`[]`)}))

	e, err := r.Get(ctx, "erc20")
	require.NoError(t, err)
	assert.Equal(t, "erc20", e.Name)
	assert.Equal(t, token, e.Address)
	assert.False(t, e.UpdatedAt.IsZero())

	moved := common.HexToAddress("0x03")
	require.NoError(t, r.Put(ctx, &Entry{Name: "Storage", Address: moved}))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "erc20", all[0].Name)
	assert.Equal(t, "storage", all[1].Name)
	assert.Equal(t, moved, all[1].Address)
}

func TestMemoryRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemory())
}

func TestRedisRegistry(t *testing.T) {
	fake := &fakeRedis{}
	r := NewRedis(fake, "test:")
	exerciseRegistry(t, r)
	assert.Zero(t, fake.open)
	assert.Contains(t, fake.hashes, "test:contracts")
}

func TestRedisRegistrySkipsCorruptEntries(t *testing.T) {
	fake := &fakeRedis{hashes: map[string]map[string][]byte{"x:contracts": {"bad": []byte("{")}}}
	r := NewRedis(fake, "x:")
	all, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = r.Get(context.Background(), "bad")
	assert.ErrorContains(t, err, "corrupt")
}
