package httpapi

import (
	"sync"
	"time"
)

// Metrics collects anchoring and consumer counters. It implements the
// pipeline observer so confirmations and failures are counted at the source.
type Metrics struct {
	mu                 sync.RWMutex
	startTime          time.Time
	latestBlock        uint64
	anchorsConfirmed   uint64
	anchorsFailed      uint64
	verificationsTotal uint64
	verificationsOK    uint64
	lastAnchorRecordID string
	lastAnchorTxHash   string
	lastAnchorTime     time.Time
	kafkaMessages      uint64
	kafkaFetchErrs     uint64
	kafkaDecodeErrs    uint64
	kafkaHandleErrs    uint64
	kafkaCommitErrs    uint64
	kafkaLastTopic     string
	kafkaLastPart      int
	kafkaLastOffset    int64
	kafkaLastTime      time.Time
	kafkaLastLag       time.Duration
	kafkaMaxLag        time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) OnAnchorConfirmed(recordID, txHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchorsConfirmed++
	m.lastAnchorRecordID = recordID
	m.lastAnchorTxHash = txHash
	m.lastAnchorTime = time.Now()
}

func (m *Metrics) OnAnchorFailed(recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchorsFailed++
	m.lastAnchorRecordID = recordID
}

func (m *Metrics) OnVerification(verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationsTotal++
	if verified {
		m.verificationsOK++
	}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = block
}

func (m *Metrics) IncKafkaFetchErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaFetchErrs++
}

func (m *Metrics) IncKafkaDecodeErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaDecodeErrs++
}

func (m *Metrics) IncKafkaHandleErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaHandleErrs++
}

func (m *Metrics) IncKafkaCommitErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaCommitErrs++
}

func (m *Metrics) ObserveKafkaMessage(topic string, partition int, offset int64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaMessages++
	m.kafkaLastTopic = topic
	m.kafkaLastPart = partition
	m.kafkaLastOffset = offset
	m.kafkaLastTime = ts
	if !ts.IsZero() {
		lag := time.Since(ts)
		m.kafkaLastLag = lag
		if lag > m.kafkaMaxLag {
			m.kafkaMaxLag = lag
		}
	}
}

type Snapshot struct {
	StartTime          time.Time
	LatestBlock        uint64
	AnchorsConfirmed   uint64
	AnchorsFailed      uint64
	VerificationsTotal uint64
	VerificationsOK    uint64
	LastAnchorRecordID string
	LastAnchorTxHash   string
	LastAnchorTime     time.Time
	KafkaMessages      uint64
	KafkaFetchErrs     uint64
	KafkaDecodeErrs    uint64
	KafkaHandleErrs    uint64
	KafkaCommitErrs    uint64
	KafkaLastTopic     string
	KafkaLastPart      int
	KafkaLastOffset    int64
	KafkaLastTime      time.Time
	KafkaLastLag       time.Duration
	KafkaMaxLag        time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:          m.startTime,
		LatestBlock:        m.latestBlock,
		AnchorsConfirmed:   m.anchorsConfirmed,
		AnchorsFailed:      m.anchorsFailed,
		VerificationsTotal: m.verificationsTotal,
		VerificationsOK:    m.verificationsOK,
		LastAnchorRecordID: m.lastAnchorRecordID,
		LastAnchorTxHash:   m.lastAnchorTxHash,
		LastAnchorTime:     m.lastAnchorTime,
		KafkaMessages:      m.kafkaMessages,
		KafkaFetchErrs:     m.kafkaFetchErrs,
		KafkaDecodeErrs:    m.kafkaDecodeErrs,
		KafkaHandleErrs:    m.kafkaHandleErrs,
		KafkaCommitErrs:    m.kafkaCommitErrs,
		KafkaLastTopic:     m.kafkaLastTopic,
		KafkaLastPart:      m.kafkaLastPart,
		KafkaLastOffset:    m.kafkaLastOffset,
		KafkaLastTime:      m.kafkaLastTime,
		KafkaLastLag:       m.kafkaLastLag,
		KafkaMaxLag:        m.kafkaMaxLag,
	}
}
