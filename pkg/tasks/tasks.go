// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// EmailTask represents the data structure for an outbound email job.
// 邮件投递与触发它的业务操作解耦：业务侧只负责发布任务，
// 投递由后台消费者完成，失败不回传给业务操作。
type EmailTask struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
