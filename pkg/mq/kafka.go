// Package mq 提供 Kafka producer/consumer 通用实现，支持重试退避与死信队列
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/tradingbot/pkg/logging"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	RetryBackoff   int
}

// MessageWriter 是 kafka.Writer 的最小抽象
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader 是 kafka.Reader 的最小抽象
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler 处理单条消息
type Handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// HandlerFunc 适配函数为 Handler
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// Handle 实现 Handler
func (f HandlerFunc) Handle(ctx context.Context, msg kafka.Message) error { return f(ctx, msg) }

// Producer Kafka 生产者
type Producer struct {
	writer MessageWriter
}

// NewWriter 按配置创建 kafka.Writer
func NewWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}
}

// NewProducer 创建 Kafka 生产者
func NewProducer(writer MessageWriter) *Producer {
	return &Producer{writer: writer}
}

// SendJSON 将 value 编码为 JSON 发送到 topic
func (p *Producer) SendJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Send(ctx, topic, key, data)
}

// Send 发送原始字节
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logging.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	logging.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NewReader 按配置创建 kafka.Reader
func NewReader(cfg KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
}

// ErrPoison 标记不应重试的消息，由消费循环转入死信队列
var ErrPoison = errors.New("poison message")

// Consumer 拉取消息并交给 Handler，处理成功或转入死信后提交 offset
type Consumer struct {
	reader  MessageReader
	handler Handler
	dlq     *DeadLetterQueue
}

// NewConsumer 创建 Kafka 消费者，dlq 可为 nil
func NewConsumer(reader MessageReader, handler Handler, dlq *DeadLetterQueue) *Consumer {
	return &Consumer{reader: reader, handler: handler, dlq: dlq}
}

// Run 阻塞消费直到 ctx 结束或读取失败
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Error(ctx, "Failed to read Kafka message", "error", err)
			return err
		}

		if err := c.process(ctx, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logging.Error(ctx, "Failed to commit Kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	err := c.handler.Handle(ctx, msg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPoison) {
		logging.Error(ctx, "Kafka message handling failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return err
	}

	logging.Warn(ctx, "Kafka message rejected", "topic", msg.Topic, "offset", msg.Offset, "error", err)
	if c.dlq == nil {
		return nil
	}
	return c.dlq.Send(ctx, msg, err)
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DeadLetterQueue 死信队列处理
type DeadLetterQueue struct {
	producer *Producer
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer *Producer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// DeadLetter 死信消息体
type DeadLetter struct {
	OriginalTopic  string    `json:"original_topic"`
	OriginalKey    string    `json:"original_key"`
	OriginalValue  string    `json:"original_value"`
	OriginalOffset int64     `json:"original_offset"`
	FailureError   string    `json:"failure_error"`
	FailedAt       time.Time `json:"failed_at"`
}

// Send 发送消息到死信队列
func (d *DeadLetterQueue) Send(ctx context.Context, msg kafka.Message, cause error) error {
	return d.producer.SendJSON(ctx, d.topic, string(msg.Key), DeadLetter{
		OriginalTopic:  msg.Topic,
		OriginalKey:    string(msg.Key),
		OriginalValue:  string(msg.Value),
		OriginalOffset: msg.Offset,
		FailureError:   cause.Error(),
		FailedAt:       time.Now().UTC(),
	})
}

// NewReplayHandler 返回把死信原样发回原 topic 的 Handler，match 为 nil 时重放全部死信。
// 无法解码的死信标记为 ErrPoison。
func NewReplayHandler(producer *Producer, match func(DeadLetter) bool) Handler {
	return HandlerFunc(func(ctx context.Context, msg kafka.Message) error {
		var dl DeadLetter
		if err := json.Unmarshal(msg.Value, &dl); err != nil {
			return fmt.Errorf("%w: decode dead letter: %w", ErrPoison, err)
		}
		if dl.OriginalTopic == "" {
			return fmt.Errorf("%w: dead letter without original topic", ErrPoison)
		}
		if match != nil && !match(dl) {
			return nil
		}
		logging.Info(ctx, "Replaying dead letter", "topic", dl.OriginalTopic, "key", dl.OriginalKey, "offset", dl.OriginalOffset)
		return producer.Send(ctx, dl.OriginalTopic, dl.OriginalKey, []byte(dl.OriginalValue))
	})
}
