package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/catalog"
	"github.com/cardvend/cardvend/internal/config"
	"github.com/cardvend/cardvend/internal/inventory"
	"github.com/cardvend/cardvend/internal/metrics"
	"github.com/cardvend/cardvend/internal/orders"
	"github.com/cardvend/cardvend/internal/redisx"
)

type CreateOrderReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Rail      string `json:"rail"`
	Contact   string `json:"contact"`
}

type CreateOrderResp struct {
	OrderID    string `json:"order_id"`
	OrderNo    string `json:"order_no"`
	Status     string `json:"status"`
	Total      string `json:"total"`
	PayAmount  string `json:"pay_amount"`
	PayAddress string `json:"pay_address,omitempty"`
	ExpireAt   string `json:"expire_at"`
}

type OrderResp struct {
	OrderID     string     `json:"order_id"`
	OrderNo     string     `json:"order_no"`
	ProductID   string     `json:"product_id"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	Rail        string     `json:"rail"`
	Total       string     `json:"total"`
	PayAmount   string     `json:"pay_amount"`
	ExpireAt    time.Time  `json:"expire_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Cards       []CardResp `json:"cards,omitempty"`
}

type CardResp struct {
	Number   string `json:"card_number"`
	Password string `json:"card_password"`
}

type OrdersHandler struct {
	Cfg      config.Config
	Orders   *orders.Repo
	Products *catalog.Repo
	Cards    *inventory.Repo
	Emitter  *orders.Emitter
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/no/{orderNo}", h.getOrderByNo)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	rail := orders.Rail(req.Rail)
	if rail != orders.RailUSDT && rail != orders.RailAlipay {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown payment rail"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Products.Get(ctx, req.ProductID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !p.Active {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "product is inactive"})
		return
	}

	// Stocked products get a pre-check so buyers do not pay into an empty
	// shelf. The authoritative check is still the claim at delivery time.
	if p.Kind == catalog.KindCard {
		n, err := h.Cards.CountAvailable(ctx, p.ID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if n < req.Quantity {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "insufficient stock"})
			return
		}
	}

	o, err := orders.New(p.ID, req.Quantity, p.Price, rail, req.Contact, h.Cfg.OrderTimeout)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if rail == orders.RailUSDT {
		if !h.Cfg.UsdtConfigured() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "usdt rail is not configured"})
			return
		}
		o.PayAmount = o.TotalAmount.Div(h.Cfg.UsdtRate).Round(6)
		o.PayAddress = h.Cfg.UsdtWallet
	}

	if err := h.Orders.Create(ctx, o); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, statusKey, string(o.Status), redisx.TTLStatusCache).Err()

	if h.Metrics != nil {
		h.Metrics.OrdersCreated.WithLabelValues(string(rail)).Inc()
	}
	h.Emitter.Created(o)
	if h.Log != nil {
		h.Log.Info("order_created",
			zap.String("order_no", o.OrderNo),
			zap.String("product_id", p.ID),
			zap.String("rail", string(rail)),
		)
	}

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:    o.ID,
		OrderNo:    o.OrderNo,
		Status:     string(o.Status),
		Total:      o.TotalAmount.StringFixed(2),
		PayAmount:  payAmountString(o),
		PayAddress: o.PayAddress,
		ExpireAt:   o.ExpireAt.Format(time.RFC3339),
	})
}

func payAmountString(o orders.Order) string {
	if o.Rail == orders.RailUSDT {
		return o.PayAmount.StringFixed(6)
	}
	return o.PayAmount.StringFixed(2)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r, func(ctx context.Context) (orders.Order, error) {
		return h.Orders.GetByID(ctx, chi.URLParam(r, "id"))
	})
}

func (h *OrdersHandler) getOrderByNo(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r, func(ctx context.Context) (orders.Order, error) {
		return h.Orders.GetByOrderNo(ctx, chi.URLParam(r, "orderNo"))
	})
}

func (h *OrdersHandler) respondOrder(w http.ResponseWriter, r *http.Request, fetch func(context.Context) (orders.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := fetch(ctx)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := OrderResp{
		OrderID:     o.ID,
		OrderNo:     o.OrderNo,
		ProductID:   o.ProductID,
		Quantity:    o.Quantity,
		Status:      string(o.Status),
		Rail:        string(o.Rail),
		Total:       o.TotalAmount.StringFixed(2),
		PayAmount:   payAmountString(o),
		ExpireAt:    o.ExpireAt,
		PaidAt:      o.PaidAt,
		CompletedAt: o.CompletedAt,
	}

	// Codes are only shown once the order is completed.
	if o.Status == orders.StatusCompleted {
		cards, err := h.Cards.DeliveredFor(ctx, o.ID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for _, c := range cards {
			resp.Cards = append(resp.Cards, CardResp{Number: c.Number, Password: c.Password})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.List(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]map[string]any, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView(ctx, h.Cards, p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Products.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, productView(ctx, h.Cards, p))
}

func productView(ctx context.Context, cards *inventory.Repo, p catalog.Product) map[string]any {
	v := map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"price":          p.Price.StringFixed(2),
		"original_price": p.OriginalPrice.StringFixed(2),
		"kind":           string(p.Kind),
		"active":         p.Active,
	}
	if p.Kind == catalog.KindCard && cards != nil {
		if n, err := cards.CountAvailable(ctx, p.ID); err == nil {
			v["stock"] = n
		}
	}
	return v
}
