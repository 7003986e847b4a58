package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"medanchor/internal/infrastructure/telemetry"
	"medanchor/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Producer publishes anchoring events to the record topic. Messages are keyed
// by record id so every event for one record lands on one partition, in order.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "medanchor-records"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: cfg.Topic}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishUploaded(ctx context.Context, msg streaming.Message) error {
	msg.Type = streaming.MessageTypeRecordUploaded
	return p.publish(ctx, "anchor.publish_uploaded", msg)
}

func (p *Producer) PublishAnchored(ctx context.Context, msg streaming.Message) error {
	msg.Type = streaming.MessageTypeRecordAnchored
	return p.publish(ctx, "anchor.publish_anchored", msg)
}

func (p *Producer) PublishAnchorFailed(ctx context.Context, msg streaming.Message) error {
	msg.Type = streaming.MessageTypeAnchorFailed
	return p.publish(ctx, "anchor.publish_failed", msg)
}

func (p *Producer) publish(ctx context.Context, spanName string, msg streaming.Message) error {
	tracer := otel.Tracer("medanchor/kafka")

	traceCtx := ctx
	if !trace.SpanContextFromContext(ctx).IsValid() {
		traceID, traceIDHex, ok := telemetry.NewTraceID()
		if ok {
			msg.TraceID = traceIDHex
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
		}
	}
	traceCtx, span := tracer.Start(traceCtx, spanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("message.type", string(msg.Type)),
		attribute.String("record.id", msg.RecordID),
	)
	if msg.TxHash != "" {
		span.SetAttributes(attribute.String("tx.hash", msg.TxHash))
	}

	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(msg.RecordID),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
