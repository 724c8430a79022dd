package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresilva/courier/internal/application/delivery"
	"github.com/redis/go-redis/v9"
)

// StreamSource reads scheduled jobs from the command and event streams
// through a consumer group, so multiple worker instances share the
// backlog and unacknowledged entries are redelivered.
type StreamSource struct {
	client        *redis.Client
	group         string
	consumer      string
	streams       []string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamSource(
	client *redis.Client,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamSource {
	if batchSize <= 0 {
		batchSize = 10
	}
	if blockDuration <= 0 {
		blockDuration = time.Second
	}
	return &StreamSource{
		client:        client,
		group:         group,
		consumer:      consumer,
		streams:       []string{CommandStream, EventStream},
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// CreateGroups creates the consumer group on each stream, creating the
// streams themselves if needed. An already-existing group is fine.
func (s *StreamSource) CreateGroups(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	for _, stream := range s.streams {
		err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
			return fmt.Errorf("create consumer group on %s: %w", stream, err)
		}
	}
	return nil
}

func (s *StreamSource) Read(ctx context.Context) ([]delivery.Job, error) {
	ids := make([]string, 0, len(s.streams)*2)
	ids = append(ids, s.streams...)
	for range s.streams {
		ids = append(ids, ">")
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  ids,
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			// No new messages
			return nil, nil
		}
		return nil, fmt.Errorf("read from streams: %w", err)
	}

	var jobs []delivery.Job
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			job, err := parseJob(stream.Stream, entry)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *StreamSource) Ack(ctx context.Context, stream, streamID string) error {
	if err := s.client.XAck(ctx, stream, s.group, streamID).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", streamID, err)
	}
	return nil
}

// ReclaimIdle takes over entries another consumer read but never
// acknowledged, so jobs from a crashed worker are not stuck pending
// forever.
func (s *StreamSource) ReclaimIdle(ctx context.Context, minIdle time.Duration) ([]delivery.Job, error) {
	var jobs []delivery.Job
	for _, stream := range s.streams {
		entries, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  minIdle,
			Start:    "0",
			Count:    s.batchSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("reclaim idle jobs from %s: %w", stream, err)
		}
		for _, entry := range entries {
			job, err := parseJob(stream, entry)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func parseJob(stream string, entry redis.XMessage) (delivery.Job, error) {
	job := delivery.Job{
		StreamID: entry.ID,
		Stream:   stream,
	}

	if raw, ok := entry.Values["outbox_id"].(string); ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return delivery.Job{}, fmt.Errorf("parse outbox_id in job %s: %w", entry.ID, err)
		}
		job.OutboxID = id
	}
	if tag, ok := entry.Values["type_tag"].(string); ok {
		job.TypeTag = tag
	}
	if payload, ok := entry.Values["payload"].(string); ok {
		job.Payload = []byte(payload)
	}
	return job, nil
}

var _ delivery.JobSource = (*StreamSource)(nil)
