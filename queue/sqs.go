package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client this package depends on, so tests
// can substitute a fake instead of hitting AWS.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue is a Queue[T] backed by an AWS SQS queue, JSON-encoding T as the
// message body.
type SQSQueue[T any] struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue returns a Queue[T] bound to queueURL.
func NewSQSQueue[T any](client SQSAPI, queueURL string) *SQSQueue[T] {
	return &SQSQueue[T]{client: client, queueURL: queueURL}
}

func (q *SQSQueue[T]) SendMessage(ctx context.Context, body T) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message body: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", q.queueURL, err)
	}
	return nil
}

func (q *SQSQueue[T]) ReceiveBatch(ctx context.Context, max int, longPoll time.Duration) ([]Message[T], error) {
	waitSeconds := int32(longPoll / time.Second)
	if waitSeconds > 20 {
		waitSeconds = 20 // SQS hard cap on long-poll wait time
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages:  int32(max),
		WaitTimeSeconds:      waitSeconds,
		VisibilityTimeout:    int32(DefaultVisibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.queueURL, err)
	}

	result := make([]Message[T], 0, len(out.Messages))
	for _, m := range out.Messages {
		var body T
		if m.Body == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*m.Body), &body); err != nil {
			return nil, fmt.Errorf("unmarshal message body: %w", err)
		}
		result = append(result, Message[T]{Handle: aws.ToString(m.ReceiptHandle), Body: body})
	}
	return result, nil
}

func (q *SQSQueue[T]) DeleteMessage(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("delete message from %s: %w", q.queueURL, err)
	}
	return nil
}

func (q *SQSQueue[T]) ExtendVisibility(ctx context.Context, handle string, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("extend visibility on %s: %w", q.queueURL, err)
	}
	return nil
}
