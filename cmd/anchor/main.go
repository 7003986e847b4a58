package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medanchor/internal/application"
	"medanchor/internal/config"
	"medanchor/internal/infrastructure/chainrpc"
	kafkainfra "medanchor/internal/infrastructure/kafka"
	"medanchor/internal/infrastructure/logging"
	"medanchor/internal/infrastructure/mysql"
	"medanchor/internal/infrastructure/sqlite"
	"medanchor/internal/infrastructure/telemetry"
	"medanchor/internal/interfaces/httpapi"
	"medanchor/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logWriter, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	if logWriter != nil {
		defer logWriter.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "medanchor", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init failed", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}

	chainClient, err := application.NewChainClient(application.ChainConfig{
		RPCURL:        cfg.RPCURL,
		PrivateKeyHex: cfg.SignerPrivateKey,
		ChainID:       cfg.ChainID,
	}, func(url string) (application.ChainRPC, error) {
		return chainrpc.NewClient(url)
	})
	if err != nil {
		log.Fatalf("chain client error: %v", err)
	}

	submitter, err := application.NewTransactionSubmitter(chainClient, application.SubmitterConfig{
		ConfirmTimeout:      cfg.ConfirmTimeout,
		ReceiptPollInterval: cfg.ReceiptPollInterval,
		ExplorerURL:         cfg.ExplorerURL,
	})
	if err != nil {
		log.Fatalf("submitter error: %v", err)
	}
	verifier, err := application.NewVerificationService(chainClient, cfg.ExplorerURL)
	if err != nil {
		log.Fatalf("verifier error: %v", err)
	}
	account, err := application.NewAccountService(chainClient, cfg.NetworkName, cfg.FaucetURL)
	if err != nil {
		log.Fatalf("account service error: %v", err)
	}

	producer, err := kafkainfra.NewProducer(kafkainfra.ProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		log.Fatalf("kafka producer error: %v", err)
	}
	defer producer.Close()

	metrics := httpapi.NewMetrics()
	pipeline, err := application.NewPipeline(submitter, verifier, store, producer, metrics)
	if err != nil {
		log.Fatalf("pipeline error: %v", err)
	}

	// Separate read-only transport for readiness checks; it needs no signer.
	statusClient, err := chainrpc.NewClient(cfg.RPCURL)
	if err != nil {
		log.Fatalf("rpc error: %v", err)
	}

	httpServer, err := httpapi.NewServer(cfg, store, pipeline, verifier, account, statusClient, producer, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		log.Fatalf("http server error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	slog.Info("anchor consumer started", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	consumeUploads(ctx, reader, pipeline, metrics)
}

func openStore(cfg config.Config) (application.RecordStore, error) {
	if cfg.DBDSN == "" {
		slog.Info("using embedded sqlite store", "path", cfg.DBPath)
		return sqlite.NewRepository(cfg.DBPath)
	}

	base, err := mysql.NewRepository(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	cached, err := mysql.NewCachedRepository(base, mysql.CacheConfig{
		Addr: cfg.RedisAddr,
	})
	if err != nil {
		slog.Warn("redis cache disabled", "error", err)
		return base, nil
	}
	return cached, nil
}

func consumeUploads(ctx context.Context, reader *kafka.Reader, pipeline *application.Pipeline, metrics *httpapi.Metrics) {
	tracer := otel.Tracer("medanchor/consumer")

	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			metrics.IncKafkaFetchErr()
			slog.Error("kafka fetch failed", "error", err)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			// A malformed message will never decode; commit it so the
			// partition keeps moving.
			metrics.IncKafkaDecodeErr()
			slog.Error("message decode failed", "error", err)
			_ = reader.CommitMessages(ctx, message)
			continue
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
			if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
				messageCtx = ctxWithTrace
			}
		}
		messageCtx, span := tracer.Start(messageCtx, "anchor.process_message", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.String("record.id", decoded.RecordID),
		)

		if err := pipeline.HandleUploaded(messageCtx, decoded); err != nil {
			// Retryable failure: leave the message uncommitted for redelivery.
			metrics.IncKafkaHandleErr()
			slog.Warn("anchoring deferred", "record_id", decoded.RecordID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			time.Sleep(500 * time.Millisecond)
			continue
		}
		span.End()

		metrics.ObserveKafkaMessage(message.Topic, message.Partition, message.Offset, message.Time)
		if err := reader.CommitMessages(ctx, message); err != nil {
			metrics.IncKafkaCommitErr()
			slog.Error("kafka commit failed", "error", err)
		}
	}
}
