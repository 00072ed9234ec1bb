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
	"errors"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
)

func TestOpenRequiresPath(t *testing.T) {
	_, err := OpenDB(DefaultConfig())
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRoundTrip(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	key := []byte("k1")

	err = db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, []byte("v1"))
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []byte
	err = db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("value = %q, want %q", got, "v1")
	}
}

func TestMissingKey(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	err = db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		_, err := txn.Get([]byte("absent"))
		return err
	})
	if !errors.Is(err, dgbadger.ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestTxnHonorsCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		t.Error("transaction body ran after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
