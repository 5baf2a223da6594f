package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo reads the product catalog. Products are created and updated by catalog
// management, which lives outside this service; the core only reads.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, name, price, original_price, kind, active, post_data, created_at, updated_at
		FROM products WHERE id=$1`, id)

	var p Product
	var postData []byte
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.OriginalPrice, &p.Kind, &p.Active, &postData, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	if len(postData) > 0 {
		var cfg PostConfig
		if err := json.Unmarshal(postData, &cfg); err != nil {
			return Product{}, fmt.Errorf("catalog: product %s post_data: %w", id, err)
		}
		p.PostConfig = &cfg
	}
	return p, nil
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price, original_price, kind, active, post_data, created_at, updated_at
		FROM products WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var postData []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.OriginalPrice, &p.Kind, &p.Active, &postData, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(postData) > 0 {
			var cfg PostConfig
			if err := json.Unmarshal(postData, &cfg); err != nil {
				return nil, fmt.Errorf("catalog: product %s post_data: %w", p.ID, err)
			}
			p.PostConfig = &cfg
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
