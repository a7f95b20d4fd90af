package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Message 是队列中传递的任务通知，任务详情始终以存储为准。
type Message struct {
	JobID   string `json:"job_id"`
	Type    Type   `json:"type"`
	Attempt int    `json:"attempt"`
}

// messageFor 根据任务当前状态构造下一次投递的消息。
func messageFor(job *Job) Message {
	return Message{JobID: job.ID, Type: job.Type, Attempt: job.Attempts + 1}
}

// encodeMessage 以 JSON 编码消息。
func encodeMessage(msg Message) ([]byte, error) {
	if strings.TrimSpace(msg.JobID) == "" {
		return nil, fmt.Errorf("消息缺少 job_id")
	}
	return json.Marshal(msg)
}

// decodeMessage 解析消息体，兼容只包含任务 ID 的纯文本消息。
func decodeMessage(body []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Message{}, fmt.Errorf("消息体为空")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Message{JobID: trimmed}, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return Message{}, fmt.Errorf("解析队列消息失败: %w", err)
	}
	if msg.JobID == "" {
		return Message{}, fmt.Errorf("消息缺少 job_id")
	}
	return msg, nil
}

// Handler 处理一条任务消息。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// runWorkers 启动 n 个协程，每个协程循环调用 work 直到其返回 false 或 ctx 结束。
func runWorkers(ctx context.Context, n int, work func(ctx context.Context) bool) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for ctx.Err() == nil && work(ctx) {
			}
		}()
	}
	wg.Wait()
}
