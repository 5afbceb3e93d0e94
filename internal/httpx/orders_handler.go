package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/access"
	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/redisx"
)

type OrdersHandler struct {
	Views   *checkout.Views
	Store   orders.Store
	Access  *access.Service
	Cache   redisx.Cache
	Events  StatusNotifier
	Timeout time.Duration
	Log     logrus.FieldLogger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/me/products/{id}/access", h.checkAccess)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Get("/orders", h.adminListOrders)
		r.Patch("/orders/{id}/status", h.adminUpdateStatus)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	t := h.Timeout
	if t <= 0 {
		t = 3 * time.Second
	}
	return context.WithTimeout(r.Context(), t)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		h.Log.WithError(err).Error("list products failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load products")
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	out, err := h.Views.ListOrdersForBuyer(ctx, u.ID)
	if err != nil {
		h.Log.WithError(err).WithField("buyer_id", u.ID).Error("list orders failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load orders")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// getOrder serves from the order_status cache first. The cached body is the
// full detail so ownership is checked on hits too.
func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	orderID := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	key := redisx.OrderStatusKey(orderID)
	var detail orders.OrderDetail
	cached := false
	if s, err := h.Cache.Get(ctx, key); err == nil {
		cached = json.Unmarshal([]byte(s), &detail) == nil
	}
	if !cached {
		d, err := h.Views.GetOrderDetail(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		if err != nil {
			h.Log.WithError(err).WithField("order_id", orderID).Error("get order failed")
			writeError(w, http.StatusInternalServerError, "internal", "could not load order")
			return
		}
		detail = d
		if b, err := json.Marshal(detail); err == nil {
			_ = h.Cache.Set(ctx, key, string(b), redisx.TTLStatusCache)
		}
	}

	if detail.BuyerID != u.ID && !u.Admin {
		// Foreign orders look missing.
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *OrdersHandler) checkAccess(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	productID := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	ok, err := h.Access.HasAccess(ctx, u.ID, productID)
	if err != nil {
		h.Log.WithError(err).Error("access check failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not check access")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "has_access": ok})
}

func (h *OrdersHandler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{Status: orders.Status(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+string(f.Status))
		return
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", err.Error())
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	out, err := h.Store.ListOrders(ctx, f)
	if err != nil {
		h.Log.WithError(err).Error("admin list orders failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not load orders")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "body must be {\"status\": pending|completed|cancelled}")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := h.Store.UpdateStatus(ctx, orderID, req.Status)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
		return
	case err != nil:
		h.Log.WithError(err).WithField("order_id", orderID).Error("update status failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not update order")
		return
	}

	log := h.Log.WithFields(logrus.Fields{"order_id": o.ID, "status": o.Status})
	if err := h.Cache.Del(ctx, redisx.OrderStatusKey(o.ID)); err != nil {
		log.WithError(err).Warn("order cache invalidation failed")
	}
	if h.Events != nil {
		if err := h.Events.OrderStatusChanged(ctx, o); err != nil {
			log.WithError(err).Warn("publish status change failed")
		}
	}
	log.Info("order status updated")
	writeJSON(w, http.StatusOK, o)
}
