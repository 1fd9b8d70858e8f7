package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"QuantPipe/pkg/logger"
)

const (
	popTimeout    = time.Second
	promoteEvery  = 2 * time.Second
	promoteBatch  = 100
	maxRetryDelay = 10 * time.Minute
)

// promoteScript moves due messages from the delayed set to the pending
// list in one step so two processes never promote the same member.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// queueKeys names the four Redis structures behind one queue.
type queueKeys struct {
	pending    string // list, LPUSH in, BLMOVE out
	processing string // list of claimed messages not yet acked
	delayed    string // zset scored by retry time
	dead       string // list
}

func newQueueKeys(prefix string) queueKeys {
	return queueKeys{
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		dead:       prefix + ":dead",
	}
}

// RedisQueue is a reliable list queue. Workers claim a message by moving
// it to the processing list and ack it by removing it from there, so a
// crash leaves the message recoverable on the next Start.
// One consumer process per key prefix is assumed.
type RedisQueue struct {
	logger *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	keys   queueKeys

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets the prefix every queue key starts with.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keys = newQueueKeys(prefix)
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, cfg QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	r := &RedisQueue{
		logger: lgr,
		cfg:    cfg,
		client: client,
		keys:   newQueueKeys("quantpipe:queue"),
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob binds a job to its message type. The first registration
// for a type wins.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.Type()]; dup {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start recovers unacked messages, then launches the workers and the
// delayed-message promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	recovered, err := r.recover(pingCtx)
	if err != nil {
		return fmt.Errorf("recover processing list: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	r.wg.Add(r.cfg.Workers + 1)
	for i := 0; i < r.cfg.Workers; i++ {
		go r.work(ctx, i)
	}
	go r.promote(ctx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("recovered", recovered),
		logger.String("pending_key", r.keys.pending))
	return nil
}

// Stop cancels the workers and waits for them until ctx ends. A message
// interrupted mid-job stays on the processing list.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// PublishMessage enqueues payload for the job registered under msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return errors.New("queue not running")
	}
	if !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	msg, err := newMessage(uuid.NewString(), msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.keys.pending, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

// recover moves everything on the processing list back to pending.
func (r *RedisQueue) recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.LMove(ctx, r.keys.processing, r.keys.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (r *RedisQueue) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		raw, err := r.client.BLMove(ctx, r.keys.pending, r.keys.processing, "RIGHT", "LEFT", popTimeout).Result()
		switch {
		case err == nil:
			r.handle(ctx, raw)
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
		default:
			r.logger.Error("queue pop failed", logger.Int("worker_id", id), logger.Error(err))
			sleepCtx(ctx, time.Second)
		}
	}
}

// handle runs the job for one claimed message and settles it: ack on
// success, delay on a retryable failure, dead-letter otherwise.
func (r *RedisQueue) handle(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.Error("undecodable queue message", logger.Error(err))
		r.settle(raw, r.keys.dead, raw, 0)
		return
	}

	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		msg.LastError = "no job registered"
		r.deadLetter(raw, msg)
		return
	}

	jobCtx := ctx
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	err := job.Handle(jobCtx, msg.Payload)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.settle(raw, "", "", 0)
		r.logger.Debug("queue message done",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed_ms", elapsed))
	case ctx.Err() != nil:
		// shutting down; the message stays claimed and is recovered on restart
		r.logger.Warn("queue message interrupted", logger.String("id", msg.ID))
	case IsPermanent(err) || msg.Attempts >= r.cfg.RetryLimit:
		msg.LastError = err.Error()
		r.logger.Error("queue message failed",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts+1),
			logger.Bool("permanent", IsPermanent(err)),
			logger.Error(err))
		r.deadLetter(raw, msg)
	default:
		msg.Attempts++
		msg.LastError = err.Error()
		at := time.Now().Add(r.retryDelay(msg.Attempts))
		data, merr := json.Marshal(msg)
		if merr != nil {
			r.deadLetter(raw, msg)
			return
		}
		r.settle(raw, r.keys.delayed, string(data), float64(at.Unix()))
		r.logger.Warn("queue message retry scheduled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts),
			logger.Time("retry_at", at),
			logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(raw string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		data = []byte(raw)
	}
	r.settle(raw, r.keys.dead, string(data), 0)
}

// settle acks raw and, when dest is set, hands next to dest in the same
// transaction. A zset destination uses score.
func (r *RedisQueue) settle(raw, dest, next string, score float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, r.keys.processing, 1, raw)
		switch dest {
		case "":
		case r.keys.delayed:
			p.ZAdd(ctx, dest, redis.Z{Score: score, Member: next})
		default:
			p.LPush(ctx, dest, next)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("queue settle failed", logger.String("dest", dest), logger.Error(err))
	}
}

// retryDelay doubles per attempt up to maxRetryDelay.
func (r *RedisQueue) retryDelay(attempt int) time.Duration {
	d := r.cfg.RetryDelay
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

func (r *RedisQueue) promote(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(promoteEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := promoteScript.Run(ctx, r.client,
				[]string{r.keys.delayed, r.keys.pending}, now.Unix(), promoteBatch).Int()
			if err != nil && ctx.Err() == nil {
				r.logger.Error("promote delayed messages", logger.Error(err))
			} else if n > 0 {
				r.logger.Debug("delayed messages promoted", logger.Int("count", n))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
