package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const consumerTag = "docrag-ingest"

// RabbitMQ publishes tasks to a durable queue and consumes them with
// manual acknowledgement. A failed task is requeued once; tasks that fail
// again or cannot be decoded are dead-lettered to <name>_dlq.
type RabbitMQ struct {
	conn    *amqp.Connection
	pub     *amqp.Channel
	sub     *amqp.Channel
	name    string
	workers int
	logger  *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	started bool
}

var _ Queue = (*RabbitMQ)(nil)

// RabbitMQOptions configures NewRabbitMQ.
type RabbitMQOptions struct {
	URL     string
	Name    string
	Workers int // also the prefetch count
	Logger  *slog.Logger
}

// NewRabbitMQ dials the broker and declares the task queue and its
// dead-letter queue.
func NewRabbitMQ(opts RabbitMQOptions) (*RabbitMQ, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	sub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	dlq := opts.Name + "_dlq"
	if _, err := pub.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", dlq, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := pub.QueueDeclare(opts.Name, true, false, false, false, args); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", opts.Name, err)
	}
	if err := sub.Qos(opts.Workers, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	opts.Logger.Info("rabbitmq queues declared", "queue", opts.Name, "dlq", dlq)
	return &RabbitMQ{
		conn:    conn,
		pub:     pub,
		sub:     sub,
		name:    opts.Name,
		workers: opts.Workers,
		logger:  opts.Logger,
	}, nil
}

// Enqueue publishes task as a persistent JSON message.
func (q *RabbitMQ) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("enqueue job %s: %w", task.JobID, ErrClosed)
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	err = q.pub.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    task.JobID,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", task.JobID, err)
	}
	q.logger.Debug("published task", "job_id", task.JobID, "queue", q.name)
	return nil
}

// Start consumes deliveries with one goroutine per worker. A delivery is
// acked once handler returns nil, requeued on its first failure and
// dead-lettered after that.
func (q *RabbitMQ) Start(handler Handler) error {
	if handler == nil {
		return errors.New("start queue: nil handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("start queue: already started")
	}
	q.started = true

	deliveries, err := q.sub.Consume(q.name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.name, err)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for msg := range deliveries {
				q.handle(workerID, handler, msg)
			}
		}(i + 1)
	}
	return nil
}

func (q *RabbitMQ) handle(workerID int, handler Handler, msg amqp.Delivery) {
	var task Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		q.logger.Error("undecodable task", "worker_id", workerID, "error", err)
		_ = msg.Nack(false, false)
		return
	}

	// No deadline: an unacked delivery is redelivered if the worker dies.
	ctx := context.Background()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return handler(ctx, task)
	}()

	if err != nil {
		// One retry, then the dead-letter queue
		requeue := !msg.Redelivered
		q.logger.Error("task failed", "worker_id", workerID, "job_id", task.JobID,
			"requeue", requeue, "error", err)
		_ = msg.Nack(false, requeue)
		return
	}
	if err := msg.Ack(false); err != nil {
		q.logger.Warn("ack failed", "job_id", task.JobID, "error", err)
	}
}

// Shutdown cancels the consumer, waits for in-flight tasks and closes the
// connection.
func (q *RabbitMQ) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if started {
		// Closes the deliveries channel once the broker confirms
		if err := q.sub.Cancel(consumerTag, false); err != nil {
			q.logger.Warn("cancel consumer", "error", err)
		}
	}

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		waitErr = ctx.Err()
	case <-done:
	}

	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close rabbitmq: %w", err)
	}
	return waitErr
}
