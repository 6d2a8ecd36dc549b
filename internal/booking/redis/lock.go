package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	paymentLockPrefix = "payment_lock:"
	holdMarkerPrefix  = "booking_hold:"
)

var ErrLockHeld = errors.New("payment session for this booking is already being created")

// unlockScript deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client  *redis.Client
	Logger  *logger.Logger
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Redis{Client: client, Logger: log, LockTTL: lockTTL}
}

// LockPayment takes the per-booking payment lock. It returns the token to
// pass to UnlockPayment, or ErrLockHeld when another request owns it.
func (r *Redis) LockPayment(ctx context.Context, bookingID string) (string, error) {
	token := uuid.New().String()
	ok, err := r.Client.SetNX(ctx, paymentLockPrefix+bookingID, token, r.LockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("acquire payment lock: %w", err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// UnlockPayment releases the lock if token still owns it. An expired lock is
// not an error.
func (r *Redis) UnlockPayment(ctx context.Context, bookingID, token string) error {
	err := unlockScript.Run(ctx, r.Client, []string{paymentLockPrefix + bookingID}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release payment lock: %w", err)
	}
	return nil
}

// MarkHold sets a key that expires together with the booking's holds, so the
// expiry subscriber can react before the next sweep.
func (r *Redis) MarkHold(ctx context.Context, bookingID string, ttl time.Duration) error {
	return r.Client.Set(ctx, holdMarkerPrefix+bookingID, time.Now().Add(ttl).Unix(), ttl).Err()
}

func (r *Redis) ClearHold(ctx context.Context, bookingID string) error {
	return r.Client.Del(ctx, holdMarkerPrefix+bookingID).Err()
}

// BookingFromExpiredKey extracts the booking id from an expired hold marker.
func BookingFromExpiredKey(key string) (string, bool) {
	if !strings.HasPrefix(key, holdMarkerPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, holdMarkerPrefix)
	return id, id != ""
}

// SubscribeExpirations calls onExpire for every hold marker that Redis
// expires, until ctx is cancelled. The server must have
// notify-keyspace-events including "Ex"; the periodic sweep covers the gap
// when it does not.
func (r *Redis) SubscribeExpirations(ctx context.Context, onExpire func(ctx context.Context, bookingID string)) error {
	if val, err := r.Client.ConfigGet(ctx, "notify-keyspace-events").Result(); err != nil {
		r.Logger.Warn("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else if len(val) < 2 || !strings.Contains(fmt.Sprint(val[1]), "x") || !strings.Contains(fmt.Sprint(val[1]), "E") {
		r.Logger.Warn("REDIS", "Keyspace notifications not configured for expiry events, relying on the sweeper")
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", r.Client.Options().DB)
	pubsub := r.Client.PSubscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	r.Logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", channel))

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				bookingID, ok := BookingFromExpiredKey(msg.Payload)
				if !ok {
					continue
				}
				r.Logger.Debug("REDIS", fmt.Sprintf("Hold marker expired for booking %s", bookingID))
				onExpire(ctx, bookingID)
			}
		}
	}()
	return nil
}
