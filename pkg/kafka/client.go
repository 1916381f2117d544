// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"regulus-go/internal/config"
	"regulus-go/pkg/database"
	"regulus-go/pkg/log"
	"regulus-go/pkg/mail"
	"regulus-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceEmailTask 发送一个邮件投递任务到 Kafka。
func ProduceEmailTask(task tasks.EmailTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Value: taskBytes,
		},
	)
}

// Publisher 是 service.EmailPublisher 的 Kafka 实现。
type Publisher struct{}

// Publish 把邮件任务写入 Kafka。
func (Publisher) Publish(task tasks.EmailTask) error {
	return ProduceEmailTask(task)
}

// StartConsumer 启动一个 Kafka 消费者来投递邮件任务。
func StartConsumer(cfg config.KafkaConfig, sender mail.Sender) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "regulus-go-mailer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break // 退出循环，可能需要重启策略
		}

		var task tasks.EmailTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始投递邮件: to=%s, subject=%s", task.To, task.Subject)
		if err := sender.Send(task.To, task.Subject, task.Body); err != nil {
			log.Errorf("邮件投递失败: to=%s, Error: %v", task.To, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:mail_attempts:%x", md5.Sum(m.Value))
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			if attempts >= 3 {
				log.Errorf("邮件任务多次失败(>=3)，提交 offset 终止重试: to=%s", task.To)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts < 3 时，不提交 offset 让 Kafka 自动重试
		} else {
			log.Infof("邮件投递成功: to=%s", task.To)
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}
