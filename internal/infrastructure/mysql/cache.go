package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"medanchor/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	recordCacheVersionKey = "medanchor:records:version"
	recordCacheKeyPrefix  = "medanchor:records:v"
	anchorCacheKeyPrefix  = "medanchor:anchor:"
	defaultCacheTTL       = 5 * time.Minute
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository layers a redis cache over the mysql store. Patient record
// listings use a versioned keyspace invalidated on every write; anchor
// transactions are immutable once stored, so they cache by hash alone.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) CreateRecord(ctx context.Context, record *domain.MedicalRecord) error {
	if err := r.Repository.CreateRecord(ctx, record); err != nil {
		return err
	}
	r.invalidateRecordCache(ctx)
	return nil
}

func (r *CachedRepository) MarkConfirmed(ctx context.Context, id, fingerprint, txHash string) error {
	if err := r.Repository.MarkConfirmed(ctx, id, fingerprint, txHash); err != nil {
		return err
	}
	r.invalidateRecordCache(ctx)
	return nil
}

func (r *CachedRepository) MarkFailed(ctx context.Context, id, reason string) error {
	if err := r.Repository.MarkFailed(ctx, id, reason); err != nil {
		return err
	}
	r.invalidateRecordCache(ctx)
	return nil
}

func (r *CachedRepository) SetVerified(ctx context.Context, id string, verified bool) error {
	if err := r.Repository.SetVerified(ctx, id, verified); err != nil {
		return err
	}
	r.invalidateRecordCache(ctx)
	return nil
}

func (r *CachedRepository) ListPatientRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	if r.cache == nil {
		return r.Repository.ListPatientRecords(ctx, patientID, limit)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Repository.ListPatientRecords(ctx, patientID, limit)
	}
	key := recordCacheKey(version, patientID, limit)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var records []domain.MedicalRecord
		if err := json.Unmarshal([]byte(cached), &records); err == nil {
			return records, nil
		}
	}

	records, err := r.Repository.ListPatientRecords(ctx, patientID, limit)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return records, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return records, nil
}

func (r *CachedRepository) GetAnchorTransaction(ctx context.Context, txHash string) (*domain.AnchorTransaction, bool, error) {
	if r.cache == nil {
		return r.Repository.GetAnchorTransaction(ctx, txHash)
	}
	key := anchorCacheKeyPrefix + strings.ToLower(txHash)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var anchor domain.AnchorTransaction
		if err := json.Unmarshal([]byte(cached), &anchor); err == nil {
			return &anchor, true, nil
		}
	}

	anchor, found, err := r.Repository.GetAnchorTransaction(ctx, txHash)
	if err != nil || !found {
		return anchor, found, err
	}
	if payload, err := json.Marshal(anchor); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return anchor, true, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, recordCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidateRecordCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, recordCacheVersionKey).Err()
}

func recordCacheKey(version, patientID string, limit int) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(recordCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":patient=")
	b.WriteString(patientID)
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}
