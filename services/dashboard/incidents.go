// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// incidentKeyPrefix namespaces incident records inside the shared badger
// keyspace.
const incidentKeyPrefix = "incident/"

// BadgerIncidentStore persists incidents in an embedded BadgerDB so active
// incidents survive a process restart. Implements Store[Incident].
type BadgerIncidentStore struct {
	db *badger.DB
}

// OpenBadgerIncidentStore opens (or creates) a persistent store at path.
// Pass an empty path for an in-memory store, used by tests and by
// deployments that opt out of persistence.
func OpenBadgerIncidentStore(path string, logger *slog.Logger) (*BadgerIncidentStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create incident store directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open incident store: %w", err)
	}
	return &BadgerIncidentStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerIncidentStore) Close() error { return s.db.Close() }

func (s *BadgerIncidentStore) Get(ctx context.Context, id string) (Incident, error) {
	var incident Incident
	if err := ctx.Err(); err != nil {
		return incident, fmt.Errorf("context cancelled: %w", err)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(incidentKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &incident)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return incident, ErrNotFound
	}
	if err != nil {
		return incident, fmt.Errorf("get incident %s: %w", id, err)
	}
	return incident, nil
}

func (s *BadgerIncidentStore) List(ctx context.Context) ([]Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var incidents []Incident
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(incidentKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var incident Incident
				if err := json.Unmarshal(val, &incident); err != nil {
					return err
				}
				incidents = append(incidents, incident)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].ID < incidents[j].ID })
	return incidents, nil
}

func (s *BadgerIncidentStore) Upsert(ctx context.Context, incident Incident) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", incident.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(incidentKeyPrefix+incident.ID), payload)
	})
	if err != nil {
		return fmt.Errorf("upsert incident %s: %w", incident.ID, err)
	}
	return nil
}

func (s *BadgerIncidentStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(incidentKeyPrefix + id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete incident %s: %w", id, err)
	}
	return nil
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(fmt.Sprintf(format, args...)) }
