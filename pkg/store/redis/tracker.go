// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sigil-dev/leash/pkg/budget"
	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// reserveScript applies one reservation to the counters hash at KEYS[1].
//
// ARGV: calls, units, mode ("strict"|"saturate"), max calls, max units.
// A negative maximum is unlimited. Returns {status, calls, units, overflow}
// where status is 0 on commit, 1 when calls and 2 when units were exceeded.
var reserveScript = goredis.NewScript(`
local calls = tonumber(redis.call('HGET', KEYS[1], 'calls') or '0')
local units = tonumber(redis.call('HGET', KEYS[1], 'units') or '0')
local overflow = tonumber(redis.call('HGET', KEYS[1], 'overflow') or '0')
local rc = tonumber(ARGV[1])
local ru = tonumber(ARGV[2])
local maxc = tonumber(ARGV[4])
local maxu = tonumber(ARGV[5])

if ARGV[3] == 'saturate' then
	local nc = calls + rc
	if maxc >= 0 and nc > maxc then nc = math.max(calls, maxc) end
	local nu = units + ru
	if maxu >= 0 and nu > maxu then nu = math.max(units, maxu) end
	overflow = overflow + units + ru - nu
	calls = nc
	units = nu
else
	if maxc >= 0 and calls + rc > maxc then return {1, calls, units, overflow} end
	if maxu >= 0 and units + ru > maxu then return {2, calls, units, overflow} end
	calls = calls + rc
	units = units + ru
end

redis.call('HSET', KEYS[1], 'calls', calls, 'units', units, 'overflow', overflow)
return {0, calls, units, overflow}
`)

// releaseScript hands back ARGV[1] calls and ARGV[2] units from the counters
// hash at KEYS[1], never going below zero. Returns {calls, units, overflow}.
var releaseScript = goredis.NewScript(`
local calls = tonumber(redis.call('HGET', KEYS[1], 'calls') or '0')
local units = tonumber(redis.call('HGET', KEYS[1], 'units') or '0')
local overflow = tonumber(redis.call('HGET', KEYS[1], 'overflow') or '0')
calls = math.max(0, calls - tonumber(ARGV[1]))
units = math.max(0, units - tonumber(ARGV[2]))
redis.call('HSET', KEYS[1], 'calls', calls, 'units', units, 'overflow', overflow)
return {calls, units, overflow}
`)

const (
	statusCommitted = 0
	statusCalls     = 1
	statusUnits     = 2
)

// Tracker is a budget.Tracker whose counters live in one Redis hash.
type Tracker struct {
	client *goredis.Client
	key    string
	scope  string
	limits budget.Limits
}

// Key returns the Redis key holding the counters.
func (t *Tracker) Key() string { return t.key }

func (t *Tracker) Limits() budget.Limits { return t.limits }

func (t *Tracker) Reserve(ctx context.Context, r budget.Reservation) (budget.Usage, error) {
	if err := r.Validate(); err != nil {
		return budget.Usage{}, err
	}

	res, err := reserveScript.Run(ctx, t.client, []string{t.key},
		r.Calls, r.Units, r.Mode.String(), ceilingArg(t.limits.Calls), ceilingArg(t.limits.Units),
	).Int64Slice()
	if err != nil {
		return budget.Usage{}, t.redisErr(err, "running reserve script")
	}
	if len(res) != 4 {
		return budget.Usage{}, leasherr.Errorf(leasherr.CodeBudgetBackendFailure,
			"reserve script returned %d values, want 4", len(res))
	}

	u := budget.Usage{Calls: res[1], Units: res[2], Overflow: res[3]}
	switch res[0] {
	case statusCommitted:
		return u, nil
	case statusCalls:
		return u, &leasherr.BudgetExceededError{
			Dimension: leasherr.DimensionCalls,
			Limit:     t.limits.Calls.Max,
			Requested: r.Calls,
			CallsUsed: u.Calls,
			UnitsUsed: u.Units,
		}
	case statusUnits:
		return u, &leasherr.BudgetExceededError{
			Dimension: leasherr.DimensionUnits,
			Limit:     t.limits.Units.Max,
			Requested: r.Units,
			CallsUsed: u.Calls,
			UnitsUsed: u.Units,
		}
	default:
		return u, leasherr.Errorf(leasherr.CodeBudgetBackendFailure, "reserve script returned status %d", res[0])
	}
}

// Release hands back r atomically.
func (t *Tracker) Release(ctx context.Context, r budget.Reservation) (budget.Usage, error) {
	if err := r.Validate(); err != nil {
		return budget.Usage{}, err
	}

	res, err := releaseScript.Run(ctx, t.client, []string{t.key}, r.Calls, r.Units).Int64Slice()
	if err != nil {
		return budget.Usage{}, t.redisErr(err, "running release script")
	}
	if len(res) != 3 {
		return budget.Usage{}, leasherr.Errorf(leasherr.CodeBudgetBackendFailure,
			"release script returned %d values, want 3", len(res))
	}
	return budget.Usage{Calls: res[0], Units: res[1], Overflow: res[2]}, nil
}

func (t *Tracker) Usage(ctx context.Context) (budget.Usage, error) {
	vals, err := t.client.HMGet(ctx, t.key, "calls", "units", "overflow").Result()
	if err != nil {
		return budget.Usage{}, t.redisErr(err, "reading counters")
	}

	var out [3]int64
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return budget.Usage{}, leasherr.Errorf(leasherr.CodeBudgetBackendFailure, "counter %d has type %T", i, v)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return budget.Usage{}, t.redisErr(err, "parsing counter")
		}
		out[i] = n
	}
	return budget.Usage{Calls: out[0], Units: out[1], Overflow: out[2]}, nil
}

// Reset deletes the counters.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.client.Del(ctx, t.key).Err(); err != nil {
		return t.redisErr(err, "resetting counters")
	}
	return nil
}

func (t *Tracker) redisErr(err error, msg string) error {
	return leasherr.Wrap(err, leasherr.CodeBudgetBackendFailure, fmt.Sprintf("%s for %s", msg, t.key),
		leasherr.FieldScope(t.scope), leasherr.FieldBackend("redis"))
}

func ceilingArg(c budget.Ceiling) int64 {
	if !c.Set {
		return -1
	}
	return c.Max
}
