// Package redisq provides an asyncq.Transport backed by Redis.
//
// It uses:
// - a Redis Set listing the queues that exist (<prefix>:queues)
// - one Redis List of JSON records per queue (<prefix>:<queue>:ready)
// - one counter per queue assigning arrival sequence numbers (<prefix>:<queue>:seq)
//
// Unlike the bolt transport, several processes can share a queue.
package redisq
