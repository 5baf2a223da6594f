package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/alipay"
	"github.com/cardvend/cardvend/internal/inventory"
	"github.com/cardvend/cardvend/internal/orders"
	"github.com/cardvend/cardvend/internal/payment"
)

type AdminHandler struct {
	Token   string
	Orders  *orders.Repo
	Cards   *inventory.Repo
	Settler *payment.Settler
	Alipay  *alipay.Client
	Log     *zap.Logger
}

func (h *AdminHandler) Register(r *chi.Mux) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.auth)
		r.Post("/orders/{id}/confirm", h.confirm)
		r.Post("/orders/{id}/recheck", h.recheck)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Post("/cards/batch", h.insertBatch)
	})
}

func (h *AdminHandler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Token")
		if h.Token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// confirm force-settles an order on operator evidence, for payments the
// reconcilers cannot see.
func (h *AdminHandler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	o, err := h.Orders.GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	txid := "manual:" + uuid.NewString()
	if err := h.Settler.Settle(ctx, o, txid); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_no": o.OrderNo, "txid": txid})
}

// recheck pushes a stuck order forward: a paid order gets a delivery retry,
// a pending alipay order gets a gateway query in case the notification was
// lost.
func (h *AdminHandler) recheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	o, err := h.Orders.GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	switch o.Status {
	case orders.StatusPaid:
		if err := h.Settler.RetryDelivery(ctx, o.ID); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	case orders.StatusPending:
		if o.Rail != orders.RailAlipay || h.Alipay == nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "nothing to recheck"})
			return
		}
		res, err := h.Alipay.QueryTrade(ctx, o.OrderNo)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		if !res.OK() || (res.TradeStatus != alipay.TradeSuccess && res.TradeStatus != alipay.TradeFinished) {
			writeJSON(w, http.StatusOK, map[string]string{"order_no": o.OrderNo, "status": string(o.Status)})
			return
		}
		if amt, err := decimal.NewFromString(res.TotalAmount); err != nil || !amt.Equal(o.TotalAmount) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "gateway amount does not match order"})
			return
		}
		if err := h.Settler.Settle(ctx, o, res.TradeNo); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is " + string(o.Status)})
		return
	}

	cur, err := h.Orders.GetByID(ctx, o.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_no": cur.OrderNo, "status": string(cur.Status)})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	moved, err := h.Orders.MarkCancelled(ctx, o.ID, req.Reason)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !moved {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is not pending"})
		return
	}

	// Best effort: close the trade at the gateway so a late payment bounces.
	if o.Rail == orders.RailAlipay && h.Alipay != nil {
		if _, err := h.Alipay.CloseTrade(ctx, o.OrderNo); err != nil && h.Log != nil {
			h.Log.Warn("alipay_close_failed",
				zap.String("order_no", o.OrderNo),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_no": o.OrderNo, "status": "cancelled"})
}

type batchReq struct {
	ProductID string     `json:"product_id"`
	BatchID   string     `json:"batch_id"`
	ExpireAt  *time.Time `json:"expire_at,omitempty"`
	Cards     []struct {
		Number   string `json:"card_number"`
		Password string `json:"card_password"`
	} `json:"cards"`
}

func (h *AdminHandler) insertBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" || len(req.Cards) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	if req.BatchID == "" {
		req.BatchID = "batch:" + uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	pairs := make([]inventory.CodePair, len(req.Cards))
	for i, c := range req.Cards {
		pairs[i] = inventory.CodePair{Number: c.Number, Password: c.Password}
	}
	ids, err := h.Cards.InsertBatch(ctx, req.ProductID, req.BatchID, pairs, req.ExpireAt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch_id": req.BatchID, "inserted": len(ids)})
}
