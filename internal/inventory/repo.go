package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// Claim reserves qty available cards for one order, oldest first, and links
// them in the same transaction. All-or-nothing: if fewer than qty rows are
// locked no card is mutated. The row locks make the select-and-mark a single
// serializable step, so two concurrent orders can never claim the same card.
func (r *Repo) Claim(ctx context.Context, orderID, productID string, qty int) ([]Card, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, product_id, number, password, batch_id, created_at
		FROM cards
		WHERE product_id=$1 AND status='available'
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE`, productID, qty)
	if err != nil {
		return nil, err
	}
	var cards []Card
	var ids []string
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.ProductID, &c.Number, &c.Password, &c.BatchID, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		cards = append(cards, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(cards) < qty {
		return nil, ErrInsufficientStock // rollback via defer
	}

	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
		UPDATE cards SET status='sold', sold_at=$2, updated_at=$2
		WHERE id = ANY($1)`, ids, now)
	if err != nil {
		return nil, err
	}
	if int(ct.RowsAffected()) != len(ids) {
		return nil, ErrInsufficientStock
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_cards(order_id, card_id) VALUES ($1,$2)`, orderID, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	for i := range cards {
		cards[i].Status = StatusSold
		t := now
		cards[i].SoldAt = &t
	}
	return cards, nil
}

// DeliveredFor returns the cards already linked to an order. A non-empty
// result is the durable proof that delivery happened, making repeated
// delivery attempts idempotent.
func (r *Repo) DeliveredFor(ctx context.Context, orderID string) ([]Card, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT c.id, c.product_id, c.number, c.password, c.batch_id, c.status, c.sold_at, c.created_at
		FROM cards c
		JOIN order_cards oc ON oc.card_id = c.id
		WHERE oc.order_id = $1
		ORDER BY c.created_at ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.ProductID, &c.Number, &c.Password, &c.BatchID, &c.Status, &c.SoldAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveProvisioned persists codes obtained from a provisioning endpoint as
// sold cards linked to the order, so both fulfillment kinds leave the same
// durable delivery record.
func (r *Repo) SaveProvisioned(ctx context.Context, orderID, productID, batchID string, codes []CodePair) ([]Card, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	out := make([]Card, 0, len(codes))
	for _, code := range codes {
		c := Card{
			ID:        uuid.NewString(),
			ProductID: productID,
			Number:    code.Number,
			Password:  code.Password,
			BatchID:   batchID,
			Status:    StatusSold,
			SoldAt:    &now,
			CreatedAt: now,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO cards(id, product_id, number, password, batch_id, status, sold_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,'sold',$6,$6,$6)`,
			c.ID, c.ProductID, c.Number, c.Password, c.BatchID, now); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_cards(order_id, card_id) VALUES ($1,$2)`, orderID, c.ID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertBatch bulk-loads stock. Called by catalog management tooling.
func (r *Repo) InsertBatch(ctx context.Context, productID, batchID string, codes []CodePair, expireAt *time.Time) ([]string, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	ids := make([]string, 0, len(codes))
	for _, code := range codes {
		id := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO cards(id, product_id, number, password, batch_id, status, expire_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,'available',$6,$7,$7)`,
			id, productID, code.Number, code.Password, batchID, expireAt, now); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repo) CountAvailable(ctx context.Context, productID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM cards WHERE product_id=$1 AND status='available'`, productID).Scan(&n)
	return n, err
}

// ExpireStale flips available cards past their shelf life to expired.
func (r *Repo) ExpireStale(ctx context.Context) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE cards SET status='expired', updated_at=now()
		WHERE status='available' AND expire_at IS NOT NULL AND expire_at < now()`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
