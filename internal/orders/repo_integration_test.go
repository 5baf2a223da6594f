//go:build integration

package orders

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cardvend/cardvend/internal/postgres"
)

// Run with: go test -tags integration ./internal/orders
// against a disposable database via TEST_POSTGRES_DSN.

func connectTest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pool
}

func seedTestProduct(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "prod-" + NewOrderNo()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO products(id, name, price, kind) VALUES ($1, 'sweep test', 10.00, 'card')`, id)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}

func createTestOrder(t *testing.T, repo *Repo, productID string, ttl time.Duration) Order {
	t.Helper()
	o, err := New(productID, 1, decimal.RequireFromString("10.00"), RailAlipay, "", ttl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := repo.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return o
}

// The sweep moves only overdue pending orders. An order that reached paid
// stays paid no matter how stale its deadline is.
func TestExpireOverdueSparesPaidOrders(t *testing.T) {
	pool := connectTest(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	productID := seedTestProduct(t, pool)
	overdue := createTestOrder(t, repo, productID, -time.Minute)
	fresh := createTestOrder(t, repo, productID, time.Hour)
	paidStale := createTestOrder(t, repo, productID, time.Minute)

	moved, err := repo.MarkPaid(ctx, paidStale.ID, "tx-1")
	if err != nil || !moved {
		t.Fatalf("MarkPaid: moved=%v err=%v", moved, err)
	}
	// Push its deadline into the past after payment.
	if _, err := pool.Exec(ctx, `
		UPDATE orders SET expire_at = now() - interval '1 hour' WHERE id=$1`, paidStale.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	ids, err := repo.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	expired := map[string]bool{}
	for _, id := range ids {
		expired[id] = true
	}
	if !expired[overdue.ID] {
		t.Errorf("overdue pending order %s not swept", overdue.OrderNo)
	}
	if expired[fresh.ID] || expired[paidStale.ID] {
		t.Errorf("sweep touched the wrong orders: %v", ids)
	}

	got, err := repo.GetByID(ctx, paidStale.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusPaid {
		t.Fatalf("paid order is %s after sweep, want paid", got.Status)
	}
}

// MarkPaid's guard rejects evidence for an order past its deadline.
func TestMarkPaidGuardsDeadline(t *testing.T) {
	pool := connectTest(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	productID := seedTestProduct(t, pool)
	o := createTestOrder(t, repo, productID, -time.Minute)

	moved, err := repo.MarkPaid(ctx, o.ID, "tx-late")
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if moved {
		t.Fatal("MarkPaid accepted an overdue order")
	}
	got, err := repo.GetByID(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusPending || got.PayTxID != "" {
		t.Fatalf("order mutated by rejected evidence: %+v", got)
	}
}

// MarkPaid is first-writer-wins: a second settle attempt is a no-op.
func TestMarkPaidFirstWriterWins(t *testing.T) {
	pool := connectTest(t)
	repo := &Repo{DB: pool}
	ctx := context.Background()

	productID := seedTestProduct(t, pool)
	o := createTestOrder(t, repo, productID, time.Hour)

	first, err := repo.MarkPaid(ctx, o.ID, "tx-a")
	if err != nil || !first {
		t.Fatalf("first MarkPaid: moved=%v err=%v", first, err)
	}
	second, err := repo.MarkPaid(ctx, o.ID, "tx-b")
	if err != nil {
		t.Fatalf("second MarkPaid: %v", err)
	}
	if second {
		t.Fatal("second writer overwrote payment evidence")
	}
	got, _ := repo.GetByID(ctx, o.ID)
	if got.PayTxID != "tx-a" {
		t.Fatalf("txid = %q, want the first writer's", got.PayTxID)
	}
}
