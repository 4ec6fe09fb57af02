package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client is the Redis backend and call transport.
// All keys and channels are namespaced with the network name.
// The client is thread-safe and can be shared by several peers in one process.
type Client struct {
	rdb     *redis.Client
	network string
}

var (
	_ Backend   = (*Client)(nil)
	_ Transport = (*Client)(nil)
)

// NewClient creates a Redis backend for the specified network.
// Returns an error if network is empty.
func NewClient(redisOpts *redis.Options, network string) (*Client, error) {
	if network == "" {
		return nil, fmt.Errorf("network name cannot be empty")
	}

	return &Client{
		rdb:     redis.NewClient(redisOpts),
		network: network,
	}, nil
}

// Network returns the network name the client is scoped to.
func (c *Client) Network() string {
	return c.network
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PutRecord writes a record hash and, for updates and deletes, indexes it
// under the superseded record. Writes are idempotent.
func (c *Client) PutRecord(ctx context.Context, r *Record) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, RecordKey(c.network, r.Hash), RecordToHash(r))
		z := redis.Z{Score: TimestampScore(r.Timestamp), Member: string(r.Hash)}
		switch r.Action {
		case ActionUpdate:
			pipe.ZAdd(ctx, UpdatesKey(c.network, r.Prev), z)
		case ActionDelete:
			pipe.ZAdd(ctx, DeletesKey(c.network, r.Prev), z)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write record to Redis: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by hash.
// Returns ErrNotFound if the record doesn't exist.
func (c *Client) GetRecord(ctx context.Context, hash Hash) (*Record, error) {
	data, err := c.rdb.HGetAll(ctx, RecordKey(c.network, hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read record from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	r, err := HashToRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}
	return r, nil
}

// GetRecords fetches several records in one pipeline.
func (c *Client) GetRecords(ctx context.Context, hashes []Hash) ([]*Record, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range hashes {
			cmds[i] = pipe.HGetAll(ctx, RecordKey(c.network, h))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read records from Redis: %w", err)
	}

	records := make([]*Record, len(hashes))
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		r, err := HashToRecord(data)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize record %s: %w", hashes[i], err)
		}
		records[i] = r
	}
	return records, nil
}

// Deleted reports which of hashes have at least one delete record.
func (c *Client) Deleted(ctx context.Context, hashes []Hash) ([]bool, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(hashes))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range hashes {
			cmds[i] = pipe.Exists(ctx, DeletesKey(c.network, h))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check delete index: %w", err)
	}

	deleted := make([]bool, len(hashes))
	for i, cmd := range cmds {
		deleted[i] = cmd.Val() > 0
	}
	return deleted, nil
}

// Updates lists the hashes of records updating hash.
func (c *Client) Updates(ctx context.Context, hash Hash) ([]Hash, error) {
	return c.rangeHashes(ctx, UpdatesKey(c.network, hash))
}

// Deletes lists the hashes of delete records targeting hash.
func (c *Client) Deletes(ctx context.Context, hash Hash) ([]Hash, error) {
	return c.rangeHashes(ctx, DeletesKey(c.network, hash))
}

func (c *Client) rangeHashes(ctx context.Context, key string) ([]Hash, error) {
	members, err := c.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", key, err)
	}
	hashes := make([]Hash, len(members))
	for i, m := range members {
		hashes[i] = Hash(m)
	}
	return hashes, nil
}

// PutLink writes a link body and adds it to its base index, scored by
// timestamp.
func (c *Client) PutLink(ctx context.Context, l *Link) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, LinkKey(c.network, l.CreateHash), LinkToHash(l))
		pipe.ZAdd(ctx, LinksKey(c.network, l.Base, l.Type), redis.Z{
			Score:  TimestampScore(l.Timestamp),
			Member: string(l.CreateHash),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write link to Redis: %w", err)
	}
	return nil
}

// GetLink retrieves a link by its create hash.
// Returns ErrNotFound if the link doesn't exist or has been removed.
func (c *Client) GetLink(ctx context.Context, createHash Hash) (*Link, error) {
	data, err := c.rdb.HGetAll(ctx, LinkKey(c.network, createHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read link from Redis: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	l, err := HashToLink(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize link: %w", err)
	}
	return l, nil
}

// ListLinks returns the links of a base and type in ascending timestamp order.
// Equal scores are ordered by member, so ties fall back to create hash order.
func (c *Client) ListLinks(ctx context.Context, base Hash, linkType LinkType) ([]*Link, error) {
	members, err := c.rdb.ZRange(ctx, LinksKey(c.network, base, linkType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read link index: %w", err)
	}
	if len(members) == 0 {
		return []*Link{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, LinkKey(c.network, Hash(m)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read link bodies: %w", err)
	}

	links := make([]*Link, 0, len(members))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			// Body removed between the index read and the fetch
			continue
		}
		l, err := HashToLink(data)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize link: %w", err)
		}
		links = append(links, l)
	}
	return links, nil
}

// RemoveLink drops a link from its base index and deletes its body.
func (c *Client) RemoveLink(ctx context.Context, l *Link) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, LinksKey(c.network, l.Base, l.Type), string(l.CreateHash))
		pipe.Del(ctx, LinkKey(c.network, l.CreateHash))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove link from Redis: %w", err)
	}
	return nil
}

// CallRemote publishes a call on the target agent's channel.
// Pub/Sub is at-most-once: a call published while the target is offline is lost,
// and that case is reported as ErrUnreachable.
func (c *Client) CallRemote(ctx context.Context, to Hash, call *Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	receivers, err := c.rdb.Publish(ctx, AgentCallsChannel(c.network, to), data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish call: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("%s: %w", to.Short(), ErrUnreachable)
	}
	return nil
}

// Listen subscribes to calls addressed to agent.
// The subscription is confirmed before Listen returns, so calls published
// afterwards are delivered.
//
// Calls are delivered on a buffered channel (size 64). If the consumer is too
// slow, Redis Pub/Sub may drop messages (at-most-once delivery).
func (c *Client) Listen(ctx context.Context, agent Hash) (*Inbox, error) {
	pubsub := c.rdb.Subscribe(ctx, AgentCallsChannel(c.network, agent))

	// Wait for the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to calls: %w", err)
	}

	callsChan := make(chan *Call, 64)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(callsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var call Call
				if err := json.Unmarshal([]byte(msg.Payload), &call); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal call: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case callsChan <- &call:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return NewInbox(callsChan, errorsChan, cancelFunc), nil
}
