package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mealtime/server/internal/model"
)

const otpKeyPrefix = "otp:"

// consumeOtpScript removes and reports one entry issued at or after ARGV[1] (unix ms).
// Running it as a script keeps the lookup and the removal atomic.
const consumeOtpScript = `
local hit = redis.call("ZRANGEBYSCORE", KEYS[1], ARGV[1], "+inf", "LIMIT", 0, 1)
if #hit == 0 then
  return 0
end
redis.call("ZREM", KEYS[1], hit[1])
return 1
`

// redisOtpRepo keeps a sorted set per (channel, identity, code). Each issue adds its own
// member scored by creation time, so reissuing the same code never overwrites an entry.
type redisOtpRepo struct {
	client redis.Cmdable
	cipher FieldCipher
	ttl    time.Duration
}

// NewRedisOtpRepo creates a Redis-backed OtpRepo. Codes expire after ttl.
func NewRedisOtpRepo(client redis.Cmdable, cipher FieldCipher, ttl time.Duration) OtpRepo {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisOtpRepo{client: client, cipher: cipher, ttl: ttl}
}

func (r *redisOtpRepo) key(channel model.OtpChannel, encIdentity, encCode string) string {
	return otpKeyPrefix + string(channel) + ":" + encIdentity + ":" + encCode
}

// Create adds the code to its set, drops entries older than ttl and extends the key's expiry
func (r *redisOtpRepo) Create(ctx context.Context, channel model.OtpChannel, identity, code string, createdAt time.Time) (model.OneTimeCode, error) {
	otp := model.OneTimeCode{
		ID:        uuid.New(),
		Channel:   channel,
		Identity:  r.cipher.Encrypt(identity),
		Code:      r.cipher.Encrypt(code),
		CreatedAt: createdAt.UTC(),
	}
	key := r.key(channel, otp.Identity, otp.Code)
	stale := strconv.FormatInt(otp.CreatedAt.Add(-r.ttl).UnixMilli(), 10)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(otp.CreatedAt.UnixMilli()), Member: otp.ID.String()})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+stale)
		pipe.PExpire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return model.OneTimeCode{}, fmt.Errorf("store otp: %w", err)
	}
	return otp, nil
}

// Consume removes one live entry; concurrent callers cannot both take the same one
func (r *redisOtpRepo) Consume(ctx context.Context, channel model.OtpChannel, identity, code string, notBefore time.Time) (bool, error) {
	key := r.key(channel, r.cipher.Encrypt(identity), r.cipher.Encrypt(code))
	n, err := r.client.Eval(ctx, consumeOtpScript, []string{key}, notBefore.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired is a no-op; Redis expires keys on its own
func (r *redisOtpRepo) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
