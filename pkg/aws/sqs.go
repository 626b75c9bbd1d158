package aws

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsBatchLimit is the SQS maximum number of entries per SendMessageBatch.
const sqsBatchLimit = 10

// QueueSender is the write side of an SQS queue.
type QueueSender interface {
	SendMessage(ctx context.Context, body string) error
	SendMessageBatch(ctx context.Context, messages []string) error
}

// SQSProducer sends messages to a single queue.
type SQSProducer struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSProducer creates a producer for the given queue URL.
func NewSQSProducer(cfg aws.Config, queueURL string) *SQSProducer {
	return &SQSProducer{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

// SendMessage sends a single message to the queue
func (p *SQSProducer) SendMessage(ctx context.Context, body string) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendMessageBatch sends messages in chunks of ten. Entries that SQS reports
// as failed are returned as an error after all chunks are attempted.
func (p *SQSProducer) SendMessageBatch(ctx context.Context, messages []string) error {
	failed := 0
	for start := 0; start < len(messages); start += sqsBatchLimit {
		end := min(start+sqsBatchLimit, len(messages))

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, msg := range messages[start:end] {
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(msg),
			})
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		failed += len(out.Failed)
	}
	if failed > 0 {
		return fmt.Errorf("sqs rejected %d of %d messages", failed, len(messages))
	}
	return nil
}
