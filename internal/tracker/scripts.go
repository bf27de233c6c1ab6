package tracker

import "github.com/redis/go-redis/v9"

// incrementScript adds ARGV[2] to field ARGV[1] of an existing batch.
// Returns false (nil) when the record is gone so HINCRBY never resurrects a
// partial hash.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
`)

// statusScript moves a batch out of PENDING.
// Returns -1 when missing, 0 when nothing changed, 1 when this call
// performed the transition.
var statusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
	return -1
end
if cur ~= 'PENDING' or cur == ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
return 1
`)

// markerScript applies increments once per marker key.
// KEYS[1] batch hash, KEYS[2] marker hash.
// ARGV[1] marker, ARGV[2] value, then field/delta pairs.
var markerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
	return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[2], ttl)
end
for i = 3, #ARGV, 2 do
	redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)
