// Package redis is the Redis job backend. Jobs are serialized as JSON
// envelopes and pushed onto one Redis list per queue; consumers pop them off
// the head of the list and run them against a task.Executor.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	broker := redis.NewBroker(client, redis.WithKeyPrefix("txtasks"))
//	if err := broker.Ping(ctx); err != nil { ... }
package redis
