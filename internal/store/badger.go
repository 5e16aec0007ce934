// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package store provides the keyed persistence implementations behind
// security.Store: a durable BadgerDB store for production and an in-memory
// store for tests and embedded use. Absent keys read back as "not present",
// never as errors.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/corvexa/watchtower/internal/security"
)

// Key prefixes for BadgerDB storage.
const (
	configKey             = "config"
	adminKey              = "admin"
	threatKeyPrefix       = "threat:"
	contractIndexPrefix   = "contract_threats:"
	metricsKeyPrefix      = "metrics:"
	breakerKeyPrefix      = "breaker:"
	actorEventsKeyPrefix  = "actor_events:"
	recommendationPrefix  = "recommendation:"
	threatRecIndexPrefix  = "threat_recs:"
	oracleKeyPrefix       = "oracle:"
	intelKeyPrefix        = "intel:"
	riskScoreKeyPrefix    = "risk:"
	incidentKeyPrefix     = "incident:"
)

// BadgerStore implements security.Store using BadgerDB for durable storage.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a BadgerDB-backed store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Open opens (or creates) a Badger database at dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

// getJSON loads and unmarshals the value at key into dst. The ok result is
// false when the key is absent.
func (s *BadgerStore) getJSON(key string, dst any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

func (s *BadgerStore) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Config returns the singleton security configuration.
func (s *BadgerStore) Config(ctx context.Context) (*security.Config, bool, error) {
	var cfg security.Config
	ok, err := s.getJSON(configKey, &cfg)
	if !ok || err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

// SetConfig stores the singleton security configuration.
func (s *BadgerStore) SetConfig(ctx context.Context, cfg *security.Config) error {
	return s.setJSON(configKey, cfg)
}

// Admin returns the stored admin identity.
func (s *BadgerStore) Admin(ctx context.Context) (string, bool, error) {
	var admin string
	ok, err := s.getJSON(adminKey, &admin)
	if !ok || err != nil {
		return "", false, err
	}
	return admin, true, nil
}

// SetAdmin stores the admin identity.
func (s *BadgerStore) SetAdmin(ctx context.Context, admin string) error {
	return s.setJSON(adminKey, admin)
}

// Threat returns a threat by ID.
func (s *BadgerStore) Threat(ctx context.Context, id string) (*security.Threat, bool, error) {
	var t security.Threat
	ok, err := s.getJSON(threatKeyPrefix+id, &t)
	if !ok || err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

// SetThreat stores a threat and appends its ID to the owning contract's
// index in the same transaction.
func (s *BadgerStore) SetThreat(ctx context.Context, t *security.Threat) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal threat: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(threatKeyPrefix + t.ID)

		// Only extend the index for threats not seen before; re-saving an
		// existing threat (mitigation bookkeeping) must not duplicate it.
		_, getErr := txn.Get(key)
		isNew := errors.Is(getErr, badger.ErrKeyNotFound)
		if getErr != nil && !isNew {
			return getErr
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if !isNew {
			return nil
		}
		return appendToIndex(txn, contractIndexPrefix+t.Contract, t.ID)
	})
	if err != nil {
		return fmt.Errorf("set threat %s: %w", t.ID, err)
	}
	return nil
}

// appendToIndex appends id to the JSON string-slice stored at key.
func appendToIndex(txn *badger.Txn, key, id string) error {
	var ids []string
	item, err := txn.Get([]byte(key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ids)
		}); err != nil {
			return err
		}
	}

	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// ContractThreats returns the IDs of all threats recorded for a contract.
func (s *BadgerStore) ContractThreats(ctx context.Context, contract string) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(contractIndexPrefix+contract, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Metrics returns the stored window metrics for (contract, windowID).
func (s *BadgerStore) Metrics(ctx context.Context, contract string, windowID int64) (*security.Metrics, bool, error) {
	var m security.Metrics
	ok, err := s.getJSON(metricsKey(contract, windowID), &m)
	if !ok || err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

// SetMetrics overwrites the window metrics for (contract, windowID).
func (s *BadgerStore) SetMetrics(ctx context.Context, m *security.Metrics) error {
	return s.setJSON(metricsKey(m.Contract, m.WindowID), m)
}

func metricsKey(contract string, windowID int64) string {
	return metricsKeyPrefix + contract + ":" + strconv.FormatInt(windowID, 10)
}

// Breaker returns the breaker record for (contract, function).
func (s *BadgerStore) Breaker(ctx context.Context, contract, function string) (*security.BreakerState, bool, error) {
	var b security.BreakerState
	ok, err := s.getJSON(breakerKeyPrefix+contract+":"+function, &b)
	if !ok || err != nil {
		return nil, false, err
	}
	return &b, true, nil
}

// SetBreaker stores the breaker record for its (contract, function) key.
func (s *BadgerStore) SetBreaker(ctx context.Context, b *security.BreakerState) error {
	return s.setJSON(breakerKeyPrefix+b.Contract+":"+b.Function, b)
}

// ActorEvents returns the windowed event count for an actor, 0 when absent
// or expired.
func (s *BadgerStore) ActorEvents(ctx context.Context, actor string, windowID int64) (uint32, error) {
	var count uint32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(actorEventsKey(actor, windowID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, parseErr := strconv.ParseUint(string(val), 10, 32)
			if parseErr != nil {
				return parseErr
			}
			count = uint32(n)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get actor events: %w", err)
	}
	return count, nil
}

// IncrementActorEvents atomically bumps an actor's windowed counter. The
// entry carries a TTL so stale windows age out of storage on their own.
func (s *BadgerStore) IncrementActorEvents(ctx context.Context, actor string, windowID int64, ttl time.Duration) (uint32, error) {
	key := []byte(actorEventsKey(actor, windowID))
	var count uint32
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				n, parseErr := strconv.ParseUint(string(val), 10, 32)
				if parseErr != nil {
					return parseErr
				}
				count = uint32(n)
				return nil
			}); err != nil {
				return err
			}
		}

		count++
		entry := badger.NewEntry(key, []byte(strconv.FormatUint(uint64(count), 10)))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("increment actor events: %w", err)
	}
	return count, nil
}

func actorEventsKey(actor string, windowID int64) string {
	return actorEventsKeyPrefix + actor + ":" + strconv.FormatInt(windowID, 10)
}

// Recommendation returns a recommendation by ID.
func (s *BadgerStore) Recommendation(ctx context.Context, id string) (*security.Recommendation, bool, error) {
	var r security.Recommendation
	ok, err := s.getJSON(recommendationPrefix+id, &r)
	if !ok || err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

// SetRecommendation stores a recommendation and appends its ID to the owning
// threat's index in the same transaction.
func (s *BadgerStore) SetRecommendation(ctx context.Context, r *security.Recommendation) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(recommendationPrefix + r.ID)

		_, getErr := txn.Get(key)
		isNew := errors.Is(getErr, badger.ErrKeyNotFound)
		if getErr != nil && !isNew {
			return getErr
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if !isNew {
			return nil
		}
		return appendToIndex(txn, threatRecIndexPrefix+r.ThreatID, r.ID)
	})
	if err != nil {
		return fmt.Errorf("set recommendation %s: %w", r.ID, err)
	}
	return nil
}

// ThreatRecommendations returns the recommendation IDs attached to a threat.
func (s *BadgerStore) ThreatRecommendations(ctx context.Context, threatID string) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(threatRecIndexPrefix+threatID, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// IsOracle reports whether an address is a registered oracle.
func (s *BadgerStore) IsOracle(ctx context.Context, oracle string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(oracleKeyPrefix + oracle))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get oracle: %w", err)
	}
	return true, nil
}

// SetOracle registers an oracle address.
func (s *BadgerStore) SetOracle(ctx context.Context, oracle string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(oracleKeyPrefix+oracle), []byte("1"))
	})
	if err != nil {
		return fmt.Errorf("set oracle: %w", err)
	}
	return nil
}

// ThreatIntel returns the indicator stored for an indicator type.
func (s *BadgerStore) ThreatIntel(ctx context.Context, indicatorType string) (*security.ThreatIntelligence, bool, error) {
	var ti security.ThreatIntelligence
	ok, err := s.getJSON(intelKeyPrefix+indicatorType, &ti)
	if !ok || err != nil {
		return nil, false, err
	}
	return &ti, true, nil
}

// SetThreatIntel stores an indicator under its indicator type.
func (s *BadgerStore) SetThreatIntel(ctx context.Context, ti *security.ThreatIntelligence) error {
	return s.setJSON(intelKeyPrefix+ti.IndicatorType, ti)
}

// RiskScore returns a user's risk score record.
func (s *BadgerStore) RiskScore(ctx context.Context, user string) (*security.RiskScore, bool, error) {
	var rs security.RiskScore
	ok, err := s.getJSON(riskScoreKeyPrefix+user, &rs)
	if !ok || err != nil {
		return nil, false, err
	}
	return &rs, true, nil
}

// SetRiskScore stores a user's risk score record.
func (s *BadgerStore) SetRiskScore(ctx context.Context, rs *security.RiskScore) error {
	return s.setJSON(riskScoreKeyPrefix+rs.User, rs)
}

// Incident returns an incident report by ID.
func (s *BadgerStore) Incident(ctx context.Context, id string) (*security.IncidentReport, bool, error) {
	var r security.IncidentReport
	ok, err := s.getJSON(incidentKeyPrefix+id, &r)
	if !ok || err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

// SetIncident stores an incident report.
func (s *BadgerStore) SetIncident(ctx context.Context, r *security.IncidentReport) error {
	return s.setJSON(incidentKeyPrefix+r.ID, r)
}

var _ security.Store = (*BadgerStore)(nil)
