// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Tideflow/services/signals"
)

// ErrVerdictNotFound is returned when no verdict exists for a signal ID.
var ErrVerdictNotFound = errors.New("verdict not found")

// VerdictStore persists verdict documents keyed by signal ID.
//
// Thread Safety: Safe for concurrent use.
type VerdictStore struct {
	db     *DB
	logger *slog.Logger
}

// NewVerdictStore creates a verdict store on an open database.
func NewVerdictStore(db *DB, logger *slog.Logger) (*VerdictStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VerdictStore{db: db, logger: logger}, nil
}

func verdictKey(signalID string) []byte {
	return []byte(fmt.Sprintf("verdict:%s", signalID))
}

// Put persists one verdict document.
func (s *VerdictStore) Put(ctx context.Context, v *signals.Verdict) error {
	if v == nil {
		return errors.New("verdict must not be nil")
	}
	if v.SignalID == "" {
		return errors.New("verdict has no signal id")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict %s: %w", v.SignalID, err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(verdictKey(v.SignalID), data)
	})
	if err != nil {
		return fmt.Errorf("store verdict %s: %w", v.SignalID, err)
	}

	s.logger.Debug("verdict persisted",
		slog.String("signal_id", v.SignalID),
		slog.String("symbol", v.Symbol),
		slog.String("action", v.Action))
	return nil
}

// Get loads the verdict for a signal ID.
//
// Outputs:
//
//	*signals.Verdict - The stored verdict.
//	error - ErrVerdictNotFound if the signal has no verdict.
func (s *VerdictStore) Get(ctx context.Context, signalID string) (*signals.Verdict, error) {
	if signalID == "" {
		return nil, errors.New("signal id must not be empty")
	}

	var verdict signals.Verdict
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(verdictKey(signalID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrVerdictNotFound, signalID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &verdict)
		})
	})
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}
