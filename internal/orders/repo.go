package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const orderCols = `id, order_no, product_id, quantity, unit_price, total_amount,
	rail, pay_amount, pay_address, pay_txid, status, contact, notes,
	expire_at, paid_at, completed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNo, &o.ProductID, &o.Quantity, &o.UnitPrice,
		&o.TotalAmount, &o.Rail, &o.PayAmount, &o.PayAddress, &o.PayTxID,
		&o.Status, &o.Contact, &o.Notes, &o.ExpireAt, &o.PaidAt,
		&o.CompletedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) Create(ctx context.Context, o Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders(`+orderCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		o.ID, o.OrderNo, o.ProductID, o.Quantity, o.UnitPrice, o.TotalAmount,
		o.Rail, o.PayAmount, o.PayAddress, o.PayTxID, o.Status, o.Contact,
		o.Notes, o.ExpireAt, o.PaidAt, o.CompletedAt, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *Repo) GetByID(ctx context.Context, id string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

func (r *Repo) GetByOrderNo(ctx context.Context, orderNo string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE order_no=$1`, orderNo))
}

// ListPendingByRail returns unexpired pending orders on a rail, oldest first.
// The reconcilers poll this set.
func (r *Repo) ListPendingByRail(ctx context.Context, rail Rail) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status='pending' AND rail=$1 AND expire_at > now()
		ORDER BY created_at ASC`, rail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkPaid flips a pending, unexpired order to paid and records the payment
// evidence. Returns false when the guard did not match, which means another
// writer already moved the order or it timed out; the caller treats that as
// losing the race, not as an error.
func (r *Repo) MarkPaid(ctx context.Context, id, txid string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='paid', pay_txid=$2, paid_at=now(), updated_at=now()
		WHERE id=$1 AND status='pending' AND expire_at > now()`, id, txid)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='completed', completed_at=now(), updated_at=now()
		WHERE id=$1 AND status='paid'`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) MarkCancelled(ctx context.Context, id, reason string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='cancelled', notes=$2, updated_at=now()
		WHERE id=$1 AND status='pending'`, id, reason)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) MarkExpired(ctx context.Context, id string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='expired', updated_at=now()
		WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ExpireOverdue sweeps every pending order past its deadline and returns the
// ids it moved, so the caller can emit one event per order.
func (r *Repo) ExpireOverdue(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE orders SET status='expired', updated_at=now()
		WHERE status='pending' AND expire_at <= now()
		RETURNING id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
