package task

import (
	"context"
	stdErrors "errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	xerrors "keygate-sdk/internal/errors"
	"keygate-sdk/pkg/logger"
)

const (
	defaultKafkaTopic   = "keygate.jobs"
	defaultKafkaGroupID = "keygated"
)

// KafkaConfig 描述 Kafka 队列的连接参数。
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// KafkaQueue 以任务 ID 为消息 key 写入一个 topic，消费组内处理后提交 offset。
// 处理失败的消息会重新写入 topic 尾部后再提交。
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	topic  string
}

// NewKafkaQueue 创建写端与消费组读端，不会主动连接 broker。
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Kafka brokers 不能为空")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = defaultKafkaTopic
	}
	group := cfg.GroupID
	if group == "" {
		group = defaultKafkaGroupID
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  group,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  maxWait,
		}),
		topic: topic,
	}, nil
}

func (q *KafkaQueue) record(msg Message) (kafka.Message, error) {
	body, err := encodeMessage(msg)
	if err != nil {
		return kafka.Message{}, xerrors.Wrap(CodeJobPublish, err, "编码任务消息失败")
	}
	return kafka.Message{
		Key:     []byte(msg.JobID),
		Value:   body,
		Headers: []kafka.Header{{Key: "type", Value: []byte(msg.Type)}},
		Time:    time.Now(),
	}, nil
}

// Publish 同步写入 topic，等待所有副本确认。
func (q *KafkaQueue) Publish(ctx context.Context, msg Message) error {
	if q == nil || q.writer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "Kafka 队列未初始化")
	}
	record, err := q.record(msg)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, record); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Kafka 发布任务失败", xerrors.WithMetadata("topic", q.topic))
	}
	return nil
}

// Consume 以消费组方式读取消息，每条消息处理完毕后提交 offset。
func (q *KafkaQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.reader == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "Kafka 队列未初始化")
	}
	log := logger.Named("kafka_queue")
	runWorkers(ctx, workerCount, func(ctx context.Context) bool {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stdErrors.Is(err, io.EOF) {
				return false
			}
			log.Error("读取 Kafka 消息失败", "topic", q.topic, "error", err)
			return true
		}
		msg, err := decodeMessage(m.Value)
		if err != nil {
			log.Warn("丢弃无法解析的任务消息", "topic", q.topic, "offset", m.Offset, "error", err)
		} else if err := handler(ctx, msg); err != nil {
			q.requeue(ctx, msg)
		}
		if err := q.reader.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
			log.Error("提交 Kafka offset 失败", "topic", q.topic, "offset", m.Offset, "error", err)
		}
		return true
	})
	return ctx.Err()
}

func (q *KafkaQueue) requeue(ctx context.Context, msg Message) {
	record, err := q.record(msg)
	if err == nil {
		err = q.writer.WriteMessages(context.WithoutCancel(ctx), record)
	}
	if err != nil {
		logger.L().Error("任务重新入队失败", "topic", q.topic, "job_id", msg.JobID, "error", err)
	}
}

// Close 关闭读写两端。
func (q *KafkaQueue) Close() error {
	if q == nil {
		return nil
	}
	var errs []error
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	return stdErrors.Join(errs...)
}

var _ Queue = (*KafkaQueue)(nil)
