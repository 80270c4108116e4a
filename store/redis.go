/*
tc2-fuel-gauge - Battery fuel gauge estimation engine
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/cyclecount"
	"github.com/go-redis/redis/v8"
)

const DefaultRedisKey = "fuel-gauge"

// RedisStore keeps the state in a redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// DialRedis connects to addr and checks the server is there.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisStore) Save(ctx context.Context, s State) error {
	counts := make([]string, len(s.CycleCounts))
	for i, c := range s.CycleCounts {
		counts[i] = strconv.Itoa(c)
	}
	err := r.client.HSet(ctx, r.key, map[string]interface{}{
		"learned-capacity": s.LearnedCapacityMAh,
		"cycle-counts":     strings.Join(counts, " "),
		"esr":              s.ESRmOhm,
		"esr-calibrations": s.ESRCalibrations,
		"soh":              s.SOH,
		"soh-cycle":        s.SOHCycle,
		"has-soh":          strconv.FormatBool(s.HasSOH),
		"last-updated":     s.LastUpdated.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save state to redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (State, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil && err != redis.Nil {
		return State{}, fmt.Errorf("failed to load state from redis: %w", err)
	}
	var s State
	if len(fields) == 0 {
		return s, nil
	}

	p := fieldParser{fields: fields}
	s.LearnedCapacityMAh = p.intField("learned-capacity")
	s.ESRmOhm = p.intField("esr")
	s.ESRCalibrations = int(p.intField("esr-calibrations"))
	s.SOH = int(p.intField("soh"))
	s.SOHCycle = int(p.intField("soh-cycle"))
	if v, ok := fields["has-soh"]; ok && p.err == nil {
		s.HasSOH, p.err = strconv.ParseBool(v)
	}
	if v, ok := fields["cycle-counts"]; ok && p.err == nil {
		parts := strings.Fields(v)
		if len(parts) != cyclecount.Buckets {
			return State{}, fmt.Errorf("redis cycle-counts has %d buckets, want %d", len(parts), cyclecount.Buckets)
		}
		for i, part := range parts {
			if s.CycleCounts[i], p.err = strconv.Atoi(part); p.err != nil {
				break
			}
		}
	}
	if v, ok := fields["last-updated"]; ok && p.err == nil {
		s.LastUpdated, p.err = time.Parse(time.RFC3339Nano, v)
	}
	if p.err != nil {
		return State{}, fmt.Errorf("failed to parse redis state: %w", p.err)
	}
	return s, nil
}

type fieldParser struct {
	fields map[string]string
	err    error
}

func (p *fieldParser) intField(name string) int64 {
	v, ok := p.fields[name]
	if !ok || p.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return n
}
