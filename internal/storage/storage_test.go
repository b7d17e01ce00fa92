package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scnwatch/internal/config"
)

func TestStoreWithoutPool(t *testing.T) {
	var store *Store
	ctx := context.Background()

	if _, _, err := store.InsertAlert(ctx, AlertRecord{Antibiotic: "Oxacillin"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := store.InsertRun(ctx, EvaluationRun{ID: uuid.New()}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := store.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	store.Close()
}

func TestOpenWithoutDSN(t *testing.T) {
	store, err := Open(context.Background(), config.DatabaseConfig{})
	if err != nil || store != nil {
		t.Fatalf("empty dsn should disable storage, got %v %v", store, err)
	}
	if _, err := NewPool(context.Background(), config.DatabaseConfig{}); err == nil {
		t.Fatal("NewPool should require a dsn")
	}
}

func TestNumericConversion(t *testing.T) {
	n := toNumeric(decimal.RequireFromString("21.684"))
	if !n.Valid || n.Int.Int64() != 21684 || n.Exp != -3 {
		t.Fatalf("unexpected numeric %+v", n)
	}
	if toNullNumeric(decimal.NullDecimal{}).Valid {
		t.Fatal("null decimal should stay null")
	}
}

func TestUUIDConversion(t *testing.T) {
	id := uuid.New()
	if got := fromUUID(toUUID(id)); got != id {
		t.Fatalf("uuid round trip: %s != %s", got, id)
	}
	if fromUUID(toUUID(uuid.Nil)) != uuid.Nil {
		t.Fatal("nil uuid should survive")
	}
}
