package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ebookstore/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// MailJob tracks delivery of one queued message.
type MailJob struct {
	ID           string    `json:"id"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	Body         string    `json:"-"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message returns the email carried by the job.
func (j MailJob) Message() Message {
	return Message{To: j.To, Subject: j.Subject, Body: j.Body}
}

// MailQueue accepts outbound email for asynchronous delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, msg Message) (MailJob, error)
}

// Handler delivers one job. A non-nil error schedules a retry.
type Handler func(context.Context, MailJob) error

// RedisMailQueue is a Redis stream outbox consumed through a consumer group.
type RedisMailQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisMailQueue(cfg RedisQueueConfig) (*RedisMailQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "mailer"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisMailQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue records the job and appends it to the stream.
func (q *RedisMailQueue) Enqueue(ctx context.Context, msg Message) (MailJob, error) {
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" {
		return MailJob{}, errors.New("recipient required")
	}
	now := time.Now().UTC()
	job := MailJob{
		ID:        util.NewID(),
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return MailJob{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job),
	}).Err(); err != nil {
		return MailJob{}, err
	}
	return job, nil
}

// GetJob returns the delivery status of a job.
func (q *RedisMailQueue) GetJob(ctx context.Context, jobID string) (MailJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return MailJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return MailJob{}, false, err
	}
	if len(data) == 0 {
		return MailJob{}, false, nil
	}
	return decodeMailJob(jobID, data), true, nil
}

// Run consumes the stream with concurrency workers until ctx is canceled.
func (q *RedisMailQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

// Close releases the Redis client.
func (q *RedisMailQueue) Close() error {
	return q.client.Close()
}

func (q *RedisMailQueue) ensureGroup(ctx context.Context) error {
	var err error
	q.once.Do(func() {
		// "0" so messages enqueued before the first worker starts are delivered.
		err = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
			err = nil
		}
	})
	return err
}

func (q *RedisMailQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				slog.Warn("mail queue read failed", "consumer", consumer, "err", err)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisMailQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisMailQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, msg.Values)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	herr := handler(ctx, job)
	if herr == nil {
		_ = q.markDone(ctx, job)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Error("mail delivery failed", "job_id", jobID, "attempts", job.Attempts, "err", herr)
		_ = q.markFailed(ctx, job, herr.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	slog.Warn("mail delivery retry", "job_id", jobID, "attempts", job.Attempts, "err", herr)
	_ = q.markQueued(ctx, job, herr.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, job)
}

func (q *RedisMailQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends a fresh copy and acks the original in one transaction,
// so a failure leaves the original pending for XAUTOCLAIM.
func (q *RedisMailQueue) requeueAndAck(ctx context.Context, msgID string, job MailJob) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisMailQueue) markProcessing(ctx context.Context, jobID string, values map[string]any) (MailJob, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return MailJob{}, err
	}
	if job.ID == "" {
		job = MailJob{ID: jobID}
	}
	if v, _ := values["to"].(string); v != "" {
		job.To = v
	}
	if v, _ := values["subject"].(string); v != "" {
		job.Subject = v
	}
	if v, _ := values["body"].(string); v != "" {
		job.Body = v
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return MailJob{}, err
	}
	return job, nil
}

func (q *RedisMailQueue) markQueued(ctx context.Context, job MailJob, errMsg string) error {
	job.Status = StatusQueued
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisMailQueue) markDone(ctx context.Context, job MailJob) error {
	job.Status = StatusDone
	job.ErrorMessage = ""
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisMailQueue) markFailed(ctx context.Context, job MailJob, errMsg string) error {
	job.Status = StatusFailed
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

// writeStatus keeps the body out of the status hash; it only rides the stream.
func (q *RedisMailQueue) writeStatus(ctx context.Context, job MailJob) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":        job.ID,
		"to":        job.To,
		"subject":   job.Subject,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisMailQueue) jobKey(jobID string) string {
	return fmt.Sprintf("mailjob:%s:%s", q.stream, jobID)
}

func streamValues(job MailJob) map[string]any {
	return map[string]any{
		"job_id":  job.ID,
		"to":      job.To,
		"subject": job.Subject,
		"body":    job.Body,
	}
}

func decodeMailJob(jobID string, data map[string]string) MailJob {
	job := MailJob{
		ID:           jobID,
		To:           data["to"],
		Subject:      data["subject"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
