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
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Tideflow/services/pipeline"
)

// ErrResultNotFound is returned when no result exists for an execution ID.
var ErrResultNotFound = errors.New("result not found")

// ResultStore persists completed pipeline results.
//
// Description:
//
//	Each result is stored twice: the full JSON document under its
//	execution ID, and a sequence-numbered history entry pointing back at
//	the ID. The sequence gives Recent a cheap newest-first scan without
//	depending on ID ordering.
//
// Thread Safety: Safe for concurrent use.
type ResultStore struct {
	db     *DB
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewResultStore creates a result store on an open database.
//
// Inputs:
//
//	db - Open database. Must not be nil.
//	logger - Structured logger. If nil, uses slog.Default().
//
// Outputs:
//
//	*ResultStore - Ready for use; the history sequence resumes from the
//	  highest entry already on disk.
func NewResultStore(db *DB, logger *slog.Logger) (*ResultStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &ResultStore{db: db, logger: logger}
	if err := s.initSeq(); err != nil {
		return nil, fmt.Errorf("scan history sequence: %w", err)
	}
	return s, nil
}

func resultKey(executionID string) []byte {
	return []byte(fmt.Sprintf("result:%s", executionID))
}

const historyPrefix = "history:"

func historyKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", historyPrefix, seq))
}

// initSeq scans for the highest existing history sequence number.
func (s *ResultStore) initSeq() error {
	var maxSeq uint64

	err := s.db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte(historyPrefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)

		if it.ValidForPrefix([]byte(historyPrefix)) {
			key := it.Item().Key()
			seqStr := string(key[len(historyPrefix):])
			var seq uint64
			if _, err := fmt.Sscanf(seqStr, "%016d", &seq); err == nil {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.seq.Store(maxSeq)
	return nil
}

// Put persists a result and appends it to the history index.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	result - Completed run. Must not be nil and must carry an execution ID.
func (s *ResultStore) Put(ctx context.Context, result *pipeline.Result) error {
	if result == nil {
		return errors.New("result must not be nil")
	}
	if result.ExecutionID == "" {
		return errors.New("result has no execution id")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", result.ExecutionID, err)
	}

	seq := s.seq.Add(1)
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(resultKey(result.ExecutionID), data); err != nil {
			return err
		}
		return txn.Set(historyKey(seq), []byte(result.ExecutionID))
	})
	if err != nil {
		return fmt.Errorf("store result %s: %w", result.ExecutionID, err)
	}

	s.logger.Debug("result persisted",
		slog.String("execution_id", result.ExecutionID),
		slog.String("status", string(result.Status)),
		slog.Int("bytes", len(data)))
	return nil
}

// Get loads the result for an execution ID.
//
// Outputs:
//
//	*pipeline.Result - The stored result.
//	error - ErrResultNotFound if the ID has never been persisted.
func (s *ResultStore) Get(ctx context.Context, executionID string) (*pipeline.Result, error) {
	if executionID == "" {
		return nil, errors.New("execution id must not be empty")
	}

	var result pipeline.Result
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(executionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrResultNotFound, executionID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Recent returns up to n results, newest first.
//
// Description:
//
//	Walks the history index in reverse and loads each referenced result.
//	History entries whose result document is missing are skipped.
func (s *ResultStore) Recent(ctx context.Context, n int) ([]*pipeline.Result, error) {
	if n <= 0 {
		n = 20
	}

	var results []*pipeline.Result
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte(historyPrefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix([]byte(historyPrefix)) && len(results) < n; it.Next() {
			var executionID string
			if err := it.Item().Value(func(val []byte) error {
				executionID = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(resultKey(executionID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				s.logger.Warn("history entry without result document",
					slog.String("execution_id", executionID))
				continue
			}
			if err != nil {
				return err
			}

			var result pipeline.Result
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &result)
			}); err != nil {
				return err
			}
			results = append(results, &result)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return results, nil
}
