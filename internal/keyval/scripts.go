// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: June 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keyval

import redis "github.com/redis/go-redis/v9"

// Transaction status values written by the scripts. The conditional
// decrement and the status flip are one script invocation, so a saga leg's
// outcome and its balance change are a single atomic unit.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusStale   = "STALE"
)

// lteDecrementScript decrements KEYS[1] by ARGV[1] iff ARGV[1] <= current,
// mirrors the delta into the committed bookkeeping key KEYS[3], and flips
// the transaction status key KEYS[2]. Returns the new value, or -1 on a
// missing key or insufficient balance.
var lteDecrementScript = redis.NewScript(`
local cur = tonumber(redis.call('get', KEYS[1]))
if cur == nil then
    redis.call('set', KEYS[2], 'FAILURE')
    return -1
end
if tonumber(ARGV[1]) <= cur then
    redis.call('set', KEYS[2], 'SUCCESS')
    redis.call('incrby', KEYS[3], ARGV[1])
    return redis.call('decrby', KEYS[1], ARGV[1])
end
redis.call('set', KEYS[2], 'FAILURE')
return -1
`)

// mGTEDecrementScript is the all-or-nothing bulk variant. KEYS[1] is the
// transaction status key, KEYS[2..n+1] the value keys, KEYS[n+2..2n+1] the
// committed keys, ARGV[1..n] the amounts. The first loop only validates;
// no key is modified unless every one passes.
var mGTEDecrementScript = redis.NewScript(`
local n = (#KEYS - 1) / 2
for i = 1, n do
    local cur = tonumber(redis.call('get', KEYS[1 + i]))
    if cur == nil or tonumber(ARGV[i]) > cur then
        redis.call('set', KEYS[1], 'FAILURE')
        return -1
    end
end
for i = 1, n do
    redis.call('decrby', KEYS[1 + i], ARGV[i])
    redis.call('incrby', KEYS[1 + n + i], ARGV[i])
end
redis.call('set', KEYS[1], 'SUCCESS')
return 1
`)

// compareAndSetScript swaps KEYS[1] from ARGV[1] to ARGV[2]. Store-side so
// the read and the write cannot interleave with another writer.
var compareAndSetScript = redis.NewScript(`
local current = redis.call('get', KEYS[1])
if current == ARGV[1] then
    redis.call('set', KEYS[1], ARGV[2])
    return 1
end
return 0
`)

// CommittedField names the bookkeeping counter tracking amounts debited by
// SUCCESS legs that the saga has not yet finalized.
func CommittedField(field string) string {
	return "committed_" + field
}
