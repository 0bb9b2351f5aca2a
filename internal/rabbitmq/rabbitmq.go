package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cutekitek/rankode-grader/internal/mappers"
	"github.com/cutekitek/rankode-grader/internal/repository/dto"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reqQueue  = "tasks-req"
	respQueue = "task-resp"

	reconnectDelay = 15 * time.Second
)

type Submitter interface {
	Submit(ctx context.Context, req *dto.RunRequest) (*models.SubmissionResult, error)
}

type RabbitMqHandlerConfig struct {
	Login        string
	Password     string
	Host         string
	Port         int
	WorkersCount int
}

type RabbitMQHandler struct {
	cfg     RabbitMqHandlerConfig
	service Submitter
	logger  *slog.Logger

	mu           sync.Mutex
	conn         *amqp.Connection
	consumerChan *amqp.Channel
	producerChan *amqp.Channel
	closed       bool

	tasksChan chan *dto.RunRequest
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRabbitMQHandler(cfg RabbitMqHandlerConfig, service Submitter, logger *slog.Logger) *RabbitMQHandler {
	if cfg.WorkersCount <= 0 {
		cfg.WorkersCount = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQHandler{
		cfg:       cfg,
		service:   service,
		logger:    logger,
		tasksChan: make(chan *dto.RunRequest, cfg.WorkersCount),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RabbitMQHandler) Start() error {
	if err := r.connect(); err != nil {
		return err
	}
	for i := 0; i < r.cfg.WorkersCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return nil
}

func (r *RabbitMQHandler) connect() error {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d", r.cfg.Login, r.cfg.Password, r.cfg.Host, r.cfg.Port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to rabbitmq")
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if err := r.startProducer(); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to start producer")
	}
	if err := r.startConsumer(); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to start consumer")
	}

	errChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	go r.watch(errChan)
	return nil
}

// watch redials after the broker drops the connection.
func (r *RabbitMQHandler) watch(errChan <-chan *amqp.Error) {
	amqpErr := <-errChan
	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		r.logger.Warn("rabbitmq connection lost, reconnecting", "error", amqpErr)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		err := r.connect()
		if err == nil {
			return
		}
		r.logger.Error("rabbitmq reconnect failed", "error", err)
	}
}

func (r *RabbitMQHandler) startConsumer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	queue, err := channel.QueueDeclare(reqQueue, false, false, false, false, nil)
	if err != nil {
		return err
	}
	del, err := channel.Consume(queue.Name, "", true, false, false, false, nil)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.consumerChan = channel
	r.mu.Unlock()
	go r.listener(del)
	return nil
}

func (r *RabbitMQHandler) startProducer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if _, err := channel.QueueDeclare(respQueue, false, false, false, false, nil); err != nil {
		return err
	}
	r.mu.Lock()
	r.producerChan = channel
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQHandler) listener(deliveries <-chan amqp.Delivery) {
	for data := range deliveries {
		task, err := decodeTask(data.Body)
		if err != nil {
			r.logger.Error("invalid task message", "message", string(data.Body), "error", err)
			continue
		}
		select {
		case r.tasksChan <- task:
		case <-r.ctx.Done():
			return
		}
	}
}

func decodeTask(body []byte) (*dto.RunRequest, error) {
	var task dto.RunRequest
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, errors.New("task id is required")
	}
	return &task, nil
}

func (r *RabbitMQHandler) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-r.tasksChan:
			// Started tasks finish even while closing.
			r.send(r.handle(context.Background(), task))
		}
	}
}

func (r *RabbitMQHandler) handle(ctx context.Context, task *dto.RunRequest) *dto.TaskResponse {
	result, err := r.service.Submit(ctx, task)
	if err != nil {
		r.logger.Warn("task failed", "task", task.ID, "error", err)
	}
	return mappers.ResultToTaskResponse(task.ID, result, err)
}

func (r *RabbitMQHandler) send(data *dto.TaskResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.producerChan == nil {
		return
	}
	body, err := json.Marshal(data)
	if err != nil {
		r.logger.Error("failed to encode response", "task", data.ID, "error", err)
		return
	}
	err = r.producerChan.PublishWithContext(context.Background(), "", respQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		r.logger.Error("failed to send response to queue", "task", data.ID, "error", err)
	}
}

// Close stops consuming, waits for running tasks and closes the connection.
// Tasks buffered but not yet started are dropped.
func (r *RabbitMQHandler) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	var err error
	if r.consumerChan != nil {
		err = r.consumerChan.Close()
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.conn != nil {
		if cerr := r.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "failed to close rabbitmq handler")
}
