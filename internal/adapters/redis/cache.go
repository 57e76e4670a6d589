package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// SetSeatLock takes the advisory fast-path lock for one seat. The database
// unique index remains the authority; this only sheds obviously losing
// contenders before they open a transaction.
func (c *Cache) SetSeatLock(ctx context.Context, showtimeID, seatID, holderID string, ttl time.Duration) (bool, error) {
	key := "hold:" + showtimeID + ":" + seatID
	res := c.client.SetNX(ctx, key, holderID, ttl)
	return res.Val(), res.Err()
}

// ReleaseSeatLock drops the advisory lock so a released seat is immediately
// holdable again instead of waiting out the lock TTL.
func (c *Cache) ReleaseSeatLock(ctx context.Context, showtimeID, seatID string) error {
	return c.client.Del(ctx, "hold:"+showtimeID+":"+seatID).Err()
}
