package redisinfra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/clinic-intake-api/internal/domain"
	"github.com/redis/go-redis/v9"
)

// releaseFn drops one in-flight reservation held under key.
const releaseFn = `
local function release(key)
  local h = tonumber(redis.call('GET', key) or '0')
  if h > 1 then
    redis.call('DECR', key)
  elseif h == 1 then
    redis.call('DEL', key)
  end
end
`

// reserveLua claims one attempt for a reference. Committed failures plus attempts still
// being evaluated never exceed the threshold, so concurrent guesses cannot overrun it.
// KEYS[1] = failure counter, KEYS[2] = lock key (locked_until, unix ms), KEYS[3] = in-flight counter
// ARGV[1] = now (unix ms), ARGV[2] = threshold, ARGV[3] = reservation ttl ms
//
// Returns {verdict, failures, locked_until}; verdict 0 = granted, 1 = locked, 2 = busy.
var reserveLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])

local lockedUntil = tonumber(redis.call('GET', KEYS[2]) or '0')
if lockedUntil > now then
  return {1, 0, lockedUntil}
end

local f = tonumber(redis.call('GET', KEYS[1]) or '0')
local h = tonumber(redis.call('GET', KEYS[3]) or '0')
if f + h >= threshold then
  return {2, f, 0}
end

redis.call('INCR', KEYS[3])
redis.call('PEXPIRE', KEYS[3], tonumber(ARGV[3]))
return {0, f, 0}
`)

// recordFailureLua settles a reservation as a failed PIN and locks the reference at the
// threshold. Keys and reply as reserveLua, ARGV[3] = window ms, ARGV[4] = cooldown ms.
var recordFailureLua = redis.NewScript(releaseFn + `
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])
local cooldownMs = tonumber(ARGV[4])

release(KEYS[3])

local lockedUntil = tonumber(redis.call('GET', KEYS[2]) or '0')
if lockedUntil > now then
  return {1, 0, lockedUntil}
end

local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], windowMs)
end

if n >= threshold then
  local untilMs = now + cooldownMs
  if untilMs <= lockedUntil then
    untilMs = lockedUntil + 1
  end
  redis.call('SET', KEYS[2], untilMs, 'PX', untilMs - now)
  redis.call('DEL', KEYS[1])
  return {1, n, untilMs}
end

return {0, n, 0}
`)

// resetLua settles a reservation as a success: KEYS[1] = failure counter, KEYS[2] = in-flight counter.
var resetLua = redis.NewScript(releaseFn + `
release(KEYS[2])
redis.call('DEL', KEYS[1])
return 1
`)

// releaseLua gives a reservation back without a verdict: KEYS[1] = in-flight counter.
var releaseLua = redis.NewScript(releaseFn + `
release(KEYS[1])
return 1
`)

// ReservationTTL bounds how long a crashed request can hold an attempt.
const ReservationTTL = 30 * time.Second

// LockoutStore persists failed PIN attempts per reference.
type LockoutStore struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
	cooldown  time.Duration
}

func NewLockoutStore(rdb *redis.Client, threshold int, window, cooldown time.Duration) *LockoutStore {
	return &LockoutStore{rdb: rdb, threshold: threshold, window: window, cooldown: cooldown}
}

func failKey(ref string) string { return "pin_fail:" + ref }
func lockKey(ref string) string { return "pin_lock:" + ref }
func heldKey(ref string) string { return "pin_held:" + ref }

// Reserve claims one attempt for ref before a PIN is compared. The state is Locked when
// ref is locked and Busy when every remaining attempt is already being evaluated.
// A granted reservation must be settled with Fail, Reset or Release.
func (s *LockoutStore) Reserve(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error) {
	res, err := reserveLua.Run(ctx, s.rdb,
		[]string{failKey(ref), lockKey(ref), heldKey(ref)},
		now.UnixMilli(), s.threshold, ReservationTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return domain.LockoutState{}, fmt.Errorf("reserve pin attempt: %w", err)
	}
	verdict, failures, until, err := triple(res)
	if err != nil {
		return domain.LockoutState{}, fmt.Errorf("reserve pin attempt: %w", err)
	}
	st := buildState(verdict == 1, int(failures), until, now)
	st.Busy = verdict == 2
	return st, nil
}

// Fail settles a reservation as one failure at now and returns the resulting state.
// A reference that is already locked is returned as-is and not counted.
func (s *LockoutStore) Fail(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error) {
	res, err := recordFailureLua.Run(ctx, s.rdb,
		[]string{failKey(ref), lockKey(ref), heldKey(ref)},
		now.UnixMilli(), s.threshold, s.window.Milliseconds(), s.cooldown.Milliseconds(),
	).Slice()
	if err != nil {
		return domain.LockoutState{}, fmt.Errorf("record pin failure: %w", err)
	}
	locked, failures, until, err := triple(res)
	if err != nil {
		return domain.LockoutState{}, fmt.Errorf("record pin failure: %w", err)
	}
	return buildState(locked == 1, int(failures), until, now), nil
}

// Get reads the state for ref without mutating it.
func (s *LockoutStore) Get(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error) {
	vals, err := s.rdb.MGet(ctx, lockKey(ref), failKey(ref)).Result()
	if err != nil {
		return domain.LockoutState{}, fmt.Errorf("read lockout: %w", err)
	}
	until := parseInt(vals[0])
	failures := parseInt(vals[1])
	return buildState(until > now.UnixMilli(), int(failures), until, now), nil
}

// Reset settles a reservation as a success and clears the failure counter.
// An active lock is left in place.
func (s *LockoutStore) Reset(ctx context.Context, ref string) error {
	return resetLua.Run(ctx, s.rdb, []string{failKey(ref), heldKey(ref)}).Err()
}

// Release gives a reservation back without counting it.
func (s *LockoutStore) Release(ctx context.Context, ref string) error {
	return releaseLua.Run(ctx, s.rdb, []string{heldKey(ref)}).Err()
}

// Clear removes the counters and any lock.
func (s *LockoutStore) Clear(ctx context.Context, ref string) error {
	return s.rdb.Del(ctx, failKey(ref), lockKey(ref), heldKey(ref)).Err()
}

func triple(res []interface{}) (int64, int64, int64, error) {
	if len(res) != 3 {
		return 0, 0, 0, fmt.Errorf("unexpected reply %v", res)
	}
	a, _ := res[0].(int64)
	b, _ := res[1].(int64)
	c, _ := res[2].(int64)
	return a, b, c, nil
}

func buildState(locked bool, failures int, untilMs int64, now time.Time) domain.LockoutState {
	st := domain.LockoutState{Failures: failures}
	if !locked {
		return st
	}
	st.Locked = true
	st.LockedUntil = time.UnixMilli(untilMs)
	st.Remaining = st.LockedUntil.Sub(now)
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	return st
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
