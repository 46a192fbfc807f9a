package kafkafeed

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
)

const maxBatchBytes = 10e6 // 10MB

// brokerSource reads partition 0 of the topic through a leader connection per call.
type brokerSource struct {
	dialer      *kafka.Dialer
	broker      string
	topic       string
	readTimeout time.Duration
}

func (s *brokerSource) OffsetAt(ctx context.Context, t time.Time) (int64, error) {
	conn, err := s.dialer.DialLeader(ctx, "tcp", s.broker, s.topic, 0)
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	return conn.ReadOffset(t)
}

func (s *brokerSource) ReadFrom(ctx context.Context, offset int64, maxMessages int) ([]kafka.Message, error) {
	conn, err := s.dialer.DialLeader(ctx, "tcp", s.broker, s.topic, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	last, err := conn.ReadLastOffset()
	if err != nil {
		return nil, err
	}

	messages := make([]kafka.Message, 0, maxMessages)
	if offset >= last {
		return messages, nil
	}

	if _, err = conn.Seek(offset, kafka.SeekAbsolute); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.readTimeout)
	}

	if err = conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	for len(messages) < maxMessages && offset < last {
		batch := conn.ReadBatch(1, maxBatchBytes)
		read := len(messages)

		for len(messages) < maxMessages && offset < last {
			message, err := batch.ReadMessage()
			if err != nil {
				break
			}

			messages = append(messages, message)
			offset = message.Offset + 1
		}

		if err = batch.Close(); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		if len(messages) == read {
			break
		}
	}

	return messages, nil
}
