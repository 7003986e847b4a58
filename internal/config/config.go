package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPCURL              string
	SignerPrivateKey    string
	ChainID             uint64
	ExplorerURL         string
	NetworkName         string
	FaucetURL           string
	DBDSN               string
	DBPath              string
	HTTPAddr            string
	RedisAddr           string
	OtelEndpoint        string
	KafkaBrokers        []string
	KafkaTopic          string
	KafkaGroupID        string
	ConfirmTimeout      time.Duration
	ReceiptPollInterval time.Duration
	LogLevel            string
	LogFile             string
	LogMaxSizeMB        int
	LogMaxBackups       int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	// Key material is passed through untouched; the chain client validates it
	// at initialization so a bad key surfaces as a ConfigurationError there.
	signerKey, _ := source.Lookup("SIGNER_PRIVATE_KEY")
	signerKey = strings.TrimSpace(signerKey)

	chainID, err := parseUintEnv(source, "CHAIN_ID", 0)
	if err != nil {
		return Config{}, err
	}

	explorerURL := "https://sepolia.etherscan.io"
	if raw, ok := source.Lookup("EXPLORER_URL"); ok && strings.TrimSpace(raw) != "" {
		explorerURL = strings.TrimRight(strings.TrimSpace(raw), "/")
	}

	networkName := "sepolia"
	if raw, ok := source.Lookup("NETWORK_NAME"); ok && strings.TrimSpace(raw) != "" {
		networkName = strings.TrimSpace(raw)
	}

	faucetURL := "https://sepoliafaucet.com"
	if raw, ok := source.Lookup("FAUCET_URL"); ok && strings.TrimSpace(raw) != "" {
		faucetURL = strings.TrimSpace(raw)
	}

	dbDSN, _ := source.Lookup("DB_DSN")
	dbDSN = strings.TrimSpace(dbDSN)

	dbPath := "medanchor.db"
	if raw, ok := source.Lookup("DB_PATH"); ok && strings.TrimSpace(raw) != "" {
		dbPath = strings.TrimSpace(raw)
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	redisAddr := ""
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}
	kafkaTopic, ok := source.Lookup("KAFKA_TOPIC")
	if !ok || kafkaTopic == "" {
		kafkaTopic = "medanchor-records"
	}
	kafkaGroupID, ok := source.Lookup("KAFKA_GROUP_ID")
	if !ok || kafkaGroupID == "" {
		kafkaGroupID = "medanchor-anchor"
	}

	confirmTimeout, err := parseDurationEnv(source, "CONFIRM_TIMEOUT", 90*time.Second)
	if err != nil {
		return Config{}, err
	}
	receiptPollInterval, err := parseDurationEnv(source, "RECEIPT_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:              rpcURL,
		SignerPrivateKey:    signerKey,
		ChainID:             chainID,
		ExplorerURL:         explorerURL,
		NetworkName:         networkName,
		FaucetURL:           faucetURL,
		DBDSN:               dbDSN,
		DBPath:              dbPath,
		HTTPAddr:            httpAddr,
		RedisAddr:           redisAddr,
		OtelEndpoint:        otelEndpoint,
		KafkaBrokers:        kafkaBrokers,
		KafkaTopic:          kafkaTopic,
		KafkaGroupID:        kafkaGroupID,
		ConfirmTimeout:      confirmTimeout,
		ReceiptPollInterval: receiptPollInterval,
		LogLevel:            logLevel,
		LogFile:             logFile,
		LogMaxSizeMB:        int(logMaxSize),
		LogMaxBackups:       int(logMaxBackups),
	}, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return duration, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}
