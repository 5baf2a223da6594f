package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("catalog: product not found")
	ErrInactive = errors.New("catalog: product inactive")
)

// Kind discriminates how a product is fulfilled.
type Kind string

const (
	// KindCard is fulfilled from pre-stocked inventory units.
	KindCard Kind = "card"
	// KindPost is provisioned on demand from an operator-configured endpoint.
	KindPost Kind = "post"
)

// PostConfig is the provisioning descriptor for post-kind products. URL,
// header values, and the body may carry {{product_id}}, {{quantity}} and
// {{order_id}} placeholders.
type PostConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Kind          Kind
	Active        bool
	PostConfig    *PostConfig // set iff Kind == KindPost
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate enforces the kind/descriptor pairing: post products must carry a
// well-formed descriptor, card products must not.
func (p *Product) Validate() error {
	switch p.Kind {
	case KindCard:
		if p.PostConfig != nil {
			return fmt.Errorf("catalog: card product %s carries a provisioning descriptor", p.ID)
		}
	case KindPost:
		if p.PostConfig == nil || p.PostConfig.URL == "" {
			return fmt.Errorf("catalog: post product %s missing provisioning url", p.ID)
		}
	default:
		return fmt.Errorf("catalog: product %s has unknown kind %q", p.ID, p.Kind)
	}
	return nil
}
