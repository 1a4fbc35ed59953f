package sqs

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type mockSQS struct {
	receiveFunc func(ctx context.Context, params *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	deleted     []string
	lastInput   *sqs.ReceiveMessageInput
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.lastInput = params
	if m.receiveFunc != nil {
		return m.receiveFunc(ctx, params)
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestNewConsumer_Validation(t *testing.T) {
	if _, err := newConsumer(&mockSQS{}, Config{}, nil); err == nil {
		t.Error("expected error for empty queue URL")
	}
	c, err := newConsumer(&mockSQS{}, Config{QueueURL: "q", WaitTimeSeconds: 99}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.config.WaitTimeSeconds != 20 {
		t.Errorf("WaitTimeSeconds = %d, want 20", c.config.WaitTimeSeconds)
	}
}

func TestReceiveMessages_ClampsAndMaps(t *testing.T) {
	m := &mockSQS{receiveFunc: func(context.Context, *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
		return &sqs.ReceiveMessageOutput{Messages: []types.Message{
			{
				MessageId:     aws.String("m1"),
				ReceiptHandle: aws.String("r1"),
				Body:          aws.String(`{"tradeId":"x"}`),
				Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
			},
			{MessageId: aws.String("m2")},
		}}, nil
	}}
	c, _ := newConsumer(m, Config{QueueURL: "q"}, nil)

	msgs, err := c.ReceiveMessages(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if m.lastInput.MaxNumberOfMessages != 10 {
		t.Errorf("MaxNumberOfMessages = %d, want 10", m.lastInput.MaxNumberOfMessages)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (incomplete message skipped)", len(msgs))
	}
	if msgs[0].ReceiveCount != 3 || msgs[0].ReceiptHandle != "r1" {
		t.Errorf("message = %+v", msgs[0])
	}

	if _, err := c.ReceiveMessages(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if m.lastInput.MaxNumberOfMessages != 1 {
		t.Errorf("MaxNumberOfMessages = %d, want 1", m.lastInput.MaxNumberOfMessages)
	}
}

func TestReceiveMessages_Error(t *testing.T) {
	boom := errors.New("boom")
	m := &mockSQS{receiveFunc: func(context.Context, *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
		return nil, boom
	}}
	c, _ := newConsumer(m, Config{QueueURL: "q"}, nil)
	if _, err := c.ReceiveMessages(context.Background(), 1); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	m := &mockSQS{}
	c, _ := newConsumer(m, Config{QueueURL: "q"}, nil)
	if err := c.DeleteMessage(context.Background(), "r9"); err != nil {
		t.Fatal(err)
	}
	if len(m.deleted) != 1 || m.deleted[0] != "r9" {
		t.Errorf("deleted = %v", m.deleted)
	}
}
