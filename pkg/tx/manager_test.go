package tx

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx реализует pgx.Tx за счет встраивания; методы не вызываются
type fakeTx struct{ pgx.Tx }

func TestGetTxFromContext(t *testing.T) {
	if _, ok := GetTxFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry a transaction")
	}

	// репозитории достают транзакцию по тому же ключу, под которым
	// ее кладет Do: ключ обязан совпадать с GetKey
	ctx := context.WithValue(context.Background(), GetKey(), pgx.Tx(fakeTx{}))
	got, ok := GetTxFromContext(ctx)
	if !ok || got == nil {
		t.Fatalf("transaction stored under GetKey must be retrievable")
	}
}
