package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures redis access for alert-record persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisRecordStore keeps alert records in redis so deduplication holds
// across pipeline instances. The conditional create is a single SET NX with
// the dedup window as TTL: creation and expiry are atomic, so a record
// suppresses repeat alerts for exactly one window and then vanishes on its
// own. Parked records are copied to their own keys under a sorted-set index
// and outlive the window until an operator collects them.
type RedisRecordStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRecordStore constructs a redis-backed record store.
func NewRedisRecordStore(cfg RedisConfig) (*RedisRecordStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "churnwatch:alerts"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis alert store: %w", err)
	}

	return &RedisRecordStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// CreateOrTouch implements RecordStore.
func (s *RedisRecordStore) CreateOrTouch(ctx context.Context, rec AlertRecord, window time.Duration) (bool, error) {
	key := s.recordKey(rec.DedupKey)
	now := time.Now().UTC()

	rec.FirstSeen = now
	rec.LastAttempted = now
	rec.Delivered = false
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode alert record: %w", err)
	}

	// The touch path re-reads the live record; if it expires between the
	// failed SET NX and the GET, one more create attempt settles it.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, key, payload, window).Result()
		if err != nil {
			return false, fmt.Errorf("conditional create alert record: %w", err)
		}
		if created {
			return true, nil
		}

		existing, err := s.getRecord(ctx, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, err
		}

		existing.LastAttempted = now
		existing.RiskScore = rec.RiskScore
		if err := s.putRecord(ctx, key, existing); err != nil {
			return false, err
		}
		return false, nil
	}
	return false, fmt.Errorf("conditional create alert record %q: retries exhausted", rec.DedupKey)
}

// MarkDelivered implements RecordStore. A failed delivery copies the record
// to the parked index, where it stays until collected; the live record keeps
// its TTL either way, so the dedup key frees up once the window elapses.
func (s *RedisRecordStore) MarkDelivered(ctx context.Context, dedupKey string, delivered bool) error {
	key := s.recordKey(dedupKey)

	rec, err := s.getRecord(ctx, key)
	if errors.Is(err, redis.Nil) {
		if delivered {
			return nil
		}
		// Delivery retries outlasted the record's window. Park what is known
		// rather than dropping the failure.
		rec = AlertRecord{DedupKey: dedupKey, FirstSeen: time.Now().UTC(), LastAttempted: time.Now().UTC()}
	} else if err != nil {
		return err
	}

	rec.Delivered = delivered
	if err == nil {
		if putErr := s.putRecord(ctx, key, rec); putErr != nil {
			return putErr
		}
	}

	if delivered {
		return nil
	}

	parkedKey := s.parkedKey(dedupKey, rec.FirstSeen)
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode parked alert record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, parkedKey, payload, 0)
	pipe.ZAdd(ctx, s.parkedSetKey(), redis.Z{Score: float64(rec.FirstSeen.Unix()), Member: parkedKey})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("park alert record: %w", err)
	}
	return nil
}

// ListParked implements RecordStore.
func (s *RedisRecordStore) ListParked(ctx context.Context) ([]AlertRecord, error) {
	members, err := s.client.ZRangeByScore(ctx, s.parkedSetKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read parked alert members: %w", err)
	}

	records := make([]AlertRecord, 0, len(members))
	for _, parkedKey := range members {
		rec, err := s.getRecord(ctx, parkedKey)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Sweep implements RecordStore. Live records expire via their TTL; parked
// entries are retained until an operator collects and re-drives them.
func (s *RedisRecordStore) Sweep(ctx context.Context, olderThan time.Time) error {
	return nil
}

// Close releases redis resources.
func (s *RedisRecordStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisRecordStore) getRecord(ctx context.Context, key string) (AlertRecord, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AlertRecord{}, err
		}
		return AlertRecord{}, fmt.Errorf("read alert record %q: %w", key, err)
	}
	var rec AlertRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return AlertRecord{}, fmt.Errorf("decode alert record %q: %w", key, err)
	}
	return rec, nil
}

// putRecord updates an existing live record in place, keeping its TTL. SET XX
// makes the write a no-op when the key expired in the meantime, so an update
// can never resurrect a record without an expiry.
func (s *RedisRecordStore) putRecord(ctx context.Context, key string, rec AlertRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode alert record: %w", err)
	}
	if err := s.client.SetXX(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("write alert record %q: %w", key, err)
	}
	return nil
}

func (s *RedisRecordStore) recordKey(dedupKey string) string {
	return s.prefix + ":record:" + dedupKey
}

// parkedKey names one displaced record; first_seen disambiguates repeated
// parks of the same dedup key.
func (s *RedisRecordStore) parkedKey(dedupKey string, firstSeen time.Time) string {
	return s.prefix + ":parked:" + dedupKey + ":" + strconv.FormatInt(firstSeen.Unix(), 10)
}

func (s *RedisRecordStore) parkedSetKey() string {
	return s.prefix + ":parked"
}

var _ RecordStore = (*RedisRecordStore)(nil)
