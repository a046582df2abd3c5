package muxcache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pior/muxcache/protocol"
)

// DefaultMaxConns is the default number of connections per server.
const DefaultMaxConns = 4

// ErrEmptyKey is returned for operations on the empty key. A miss on the empty key
// cannot be told apart from a hit on an empty value, so the client never sends one.
var ErrEmptyKey = errors.New("muxcache: empty key")

type Item struct {
	Key    string
	TypeID uint32
	Value  []byte
	Found  bool // indicates whether the key was found in cache
}

// ServerError is an error response returned by a server.
type ServerError struct {
	Op      protocol.Op
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("muxcache: server error on %s: %s", e.Op, e.Message)
}

// Config holds configuration for the cache client.
type Config struct {
	// MaxSize is the maximum number of connections per server.
	// Zero means DefaultMaxConns.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are checked.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is the net.Dialer used to create new connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// NewPool creates the connection pool of a server.
	// If nil, NewPuddlePool is used.
	NewPool PoolFactory

	// SelectServer picks which server owns a key.
	// If nil, DefaultServerSelector is used.
	SelectServer ServerSelector

	// NewCircuitBreaker creates the circuit breaker of a server.
	// Called once per server address when its pool is created.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) *CircuitBreaker

	// for testing purposes only
	constructor func(ctx context.Context, addr string) (*Connection, error)
}

// Client is a cache client. Keys are spread over servers by SelectServer, and each
// server has its own pool of multiplexed connections.
type Client struct {
	servers Servers
	config  Config

	mu    sync.RWMutex
	pools map[string]*ServerPool

	stopHealthCheck chan struct{}
	closeOnce       sync.Once

	stats *clientStatsCollector
}

// NewClient creates a client for servers.
// For a single server, use: NewClient(NewStaticServers("host:port"), Config{})
func NewClient(servers Servers, config Config) (*Client, error) {
	if len(servers.List()) == 0 {
		return nil, ErrNoServers
	}
	if config.MaxSize < 0 {
		return nil, fmt.Errorf("max size must not be negative, got %d", config.MaxSize)
	}

	if config.MaxSize == 0 {
		config.MaxSize = DefaultMaxConns
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	if config.NewPool == nil {
		config.NewPool = NewPuddlePool
	}
	if config.SelectServer == nil {
		config.SelectServer = DefaultServerSelector
	}

	client := &Client{
		servers:         servers,
		config:          config,
		pools:           make(map[string]*ServerPool),
		stopHealthCheck: make(chan struct{}),
		stats:           &clientStatsCollector{},
	}

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Close closes the client and all connections.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)

		c.mu.Lock()
		defer c.mu.Unlock()

		for _, sp := range c.pools {
			sp.Close()
		}
	})
}

func (c *Client) poolForKey(key string) (*ServerPool, error) {
	servers := c.servers.List()
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	return c.getOrCreatePool(servers[c.config.SelectServer(key, len(servers))])
}

func (c *Client) getOrCreatePool(addr string) (*ServerPool, error) {
	c.mu.RLock()
	sp, ok := c.pools[addr]
	c.mu.RUnlock()
	if ok {
		return sp, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sp, ok := c.pools[addr]; ok {
		return sp, nil
	}

	constructor := func(ctx context.Context) (*Connection, error) {
		if c.config.constructor != nil {
			return c.config.constructor(ctx, addr)
		}
		netConn, err := c.config.Dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewConnection(netConn), nil
	}

	pool, err := c.config.NewPool(constructor, c.config.MaxSize)
	if err != nil {
		return nil, err
	}

	var cb *CircuitBreaker
	if c.config.NewCircuitBreaker != nil {
		cb = c.config.NewCircuitBreaker(addr)
	}

	sp = newServerPool(addr, pool, cb)
	c.pools[addr] = sp
	return sp, nil
}

func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			for _, sp := range c.serverPools() {
				sp.checkConnections(c.config.MaxConnLifetime, c.config.MaxConnIdleTime, c.config.HealthCheckInterval)
			}
		}
	}
}

func (c *Client) serverPools() []*ServerPool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pools := make([]*ServerPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	return pools
}

// exec sends req to the server owning key and turns error responses into a *ServerError.
func (c *Client) exec(ctx context.Context, key string, req protocol.Message) (protocol.Message, error) {
	if key == "" {
		return protocol.Message{}, ErrEmptyKey
	}

	sp, err := c.poolForKey(key)
	if err != nil {
		c.stats.recordError()
		return protocol.Message{}, err
	}

	resp, err := sp.Execute(ctx, req)
	if err != nil {
		c.stats.recordError()
		return protocol.Message{}, err
	}

	if resp.Code == protocol.CodeError {
		c.stats.recordError()
		return protocol.Message{}, &ServerError{Op: resp.Op, Message: string(resp.Data())}
	}

	return resp, nil
}

// Get retrieves a single item. A missing key is not an error: Found is false.
// The empty key returns ErrEmptyKey.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	resp, err := c.exec(ctx, key, protocol.NewRequest(protocol.OpGet, []byte(key), nil))
	if err != nil {
		return Item{}, err
	}

	// A miss echoes the key without a payload. A hit never carries the key.
	if !resp.HasPayload() && len(resp.Key) > 0 {
		c.stats.recordGet(false)
		return Item{Key: key, Found: false}, nil
	}

	c.stats.recordGet(true)
	return Item{
		Key:    key,
		TypeID: resp.TypeID(),
		Value:  resp.Data(),
		Found:  true,
	}, nil
}

// Set stores an item, replacing any previous value.
func (c *Client) Set(ctx context.Context, item Item) error {
	var payload *protocol.Payload
	if len(item.Value) > 0 {
		payload = protocol.NewPayload(item.TypeID, item.Value)
	}

	if _, err := c.exec(ctx, item.Key, protocol.NewRequest(protocol.OpSet, []byte(item.Key), payload)); err != nil {
		return err
	}

	c.stats.recordSet()
	return nil
}

// Delete sends a delete request for key.
//
// The server acknowledges deletes without removing the entry.
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.exec(ctx, key, protocol.NewRequest(protocol.OpDel, []byte(key), nil)); err != nil {
		return err
	}

	c.stats.recordDelete()
	return nil
}

// ServerStats sends a Stats request to every server and returns their text reports
// by address.
func (c *Client) ServerStats(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for _, addr := range c.servers.List() {
		sp, err := c.getOrCreatePool(addr)
		if err != nil {
			return nil, err
		}

		resp, err := sp.Execute(ctx, protocol.NewRequest(protocol.OpStats, nil, nil))
		if err != nil {
			c.stats.recordError()
			return nil, fmt.Errorf("stats from %s: %w", addr, err)
		}
		if resp.Code == protocol.CodeError {
			c.stats.recordError()
			return nil, &ServerError{Op: resp.Op, Message: string(resp.Data())}
		}
		out[addr] = string(resp.Data())
	}
	return out, nil
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// AllPoolStats returns stats for all server pools.
func (c *Client) AllPoolStats() []ServerPoolStats {
	pools := c.serverPools()

	stats := make([]ServerPoolStats, 0, len(pools))
	for _, sp := range pools {
		stats = append(stats, sp.Stats())
	}
	return stats
}
