package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cardvend/cardvend/internal/alipay"
)

type AlipayHandler struct {
	Reconciler *alipay.Reconciler
}

func (h *AlipayHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/alipay", h.notify)
}

// notify answers with the literal body the gateway expects: "success" stops
// redelivery, anything else schedules another attempt.
func (h *AlipayHandler) notify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, alipay.AckFail, http.StatusBadRequest)
		return
	}
	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ack := h.Reconciler.HandleNotification(ctx, alipay.ParseNotification(form))
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}
