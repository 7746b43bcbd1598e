// internal/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tableturn/internal/server"
)

// Queue names for downstream consumers.
const (
	ResultQueue = "tableturn_results"
	MatchQueue  = "tableturn_matches"
)

// Journal pushes finished-game and issued-match records onto Redis lists
// for out-of-process consumers.
type Journal struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// Connect initializes the Redis client and verifies it with a ping.
func Connect(addr string, db int, logger *logrus.Logger) (*Journal, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Journal{rdb: rdb, logger: logger}, nil
}

// RecordResult implements server.Recorder.
func (j *Journal) RecordResult(rec server.ResultRecord) {
	j.push(ResultQueue, rec)
}

// RecordMatch implements server.MatchRecorder.
func (j *Journal) RecordMatch(rec server.MatchRecord) {
	j.push(MatchQueue, rec)
}

// push serializes the record and appends it to the queue on its own
// goroutine so tick loops never wait on Redis.
func (j *Journal) push(queue string, record any) {
	data, err := json.Marshal(record)
	if err != nil {
		j.logger.Warnf("failed to marshal journal record: %v", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.rdb.RPush(ctx, queue, data).Err(); err != nil {
			j.logger.Warnf("failed to push journal record to %q: %v", queue, err)
		}
	}()
}

// Close releases the client.
func (j *Journal) Close() error {
	return j.rdb.Close()
}
