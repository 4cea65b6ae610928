package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/elit21/storefront-go/internal/cart"
	"github.com/elit21/storefront-go/internal/catalog"
	"github.com/elit21/storefront-go/internal/checkout"
	"github.com/elit21/storefront-go/internal/gateway"
	"github.com/elit21/storefront-go/internal/inventory"
	"github.com/elit21/storefront-go/internal/order"
	"github.com/elit21/storefront-go/internal/session"
	"github.com/elit21/storefront-go/internal/store"
	"github.com/elit21/storefront-go/pkg/idempotency"
	"github.com/elit21/storefront-go/pkg/logging"
	"github.com/elit21/storefront-go/pkg/metrics"
)

type cfg struct {
	Port             string
	DatabaseURL      string
	BaseURL          string
	PayPalClientID   string
	PayPalSecret     string
	PayPalEnv        string
	PayPalFallback   bool
	ShippingFee      decimal.Decimal
	Currency         string
	SessionSecret    string
	AdminToken       string
	Topic            string
	RequestTimeout   time.Duration
	Debug            bool
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if secret == "" {
		return cfg{}, errors.New("SESSION_SECRET is required")
	}
	fee, err := decimal.NewFromString(getenv("SHIPPING_FEE", "9.99"))
	if err != nil {
		return cfg{}, errors.New("SHIPPING_FEE must be a decimal amount")
	}
	payEnv := strings.ToLower(getenv("PAYPAL_ENV", gateway.EnvSandbox))
	if payEnv != gateway.EnvSandbox && payEnv != gateway.EnvLive {
		return cfg{}, errors.New("PAYPAL_ENV must be sandbox or live")
	}
	return cfg{
		Port:           getenv("PORT", "8080"),
		DatabaseURL:    db,
		BaseURL:        strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),
		PayPalClientID: getenv("PAYPAL_CLIENT_ID", ""),
		PayPalSecret:   getenv("PAYPAL_CLIENT_SECRET", ""),
		PayPalEnv:      payEnv,
		PayPalFallback: boolenv("PAYPAL_ENV_FALLBACK", true),
		ShippingFee:    fee,
		Currency:       getenv("CURRENCY", "EUR"),
		SessionSecret:  secret,
		AdminToken:     getenv("ADMIN_TOKEN", ""),
		Topic:          getenv("KAFKA_TOPIC", "elit21.events"),
		RequestTimeout: time.Duration(intenv("REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
		Debug:          boolenv("DEBUG_LOG", false),
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logging.SetDebug(cfg.Debug)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := store.Init(ctx, pool); err != nil {
		log.Fatalf("schema init error: %v", err)
	}

	ledger := &inventory.Ledger{DB: pool}
	products := &catalog.Store{DB: pool}
	carts := cart.NewStore(ledger)
	sessions := session.NewManager(cfg.SessionSecret)
	orders := order.NewStore(pool, cfg.Topic)
	pay := gateway.New(gateway.Config{
		ClientID:         cfg.PayPalClientID,
		ClientSecret:     cfg.PayPalSecret,
		Env:              cfg.PayPalEnv,
		AllowEnvFallback: cfg.PayPalFallback,
		BrandName:        "ELIT21",
	})
	engine := &checkout.Engine{
		Carts:       carts,
		Catalog:     products,
		Orders:      orders,
		Gateway:     pay,
		ShippingFee: cfg.ShippingFee,
		Currency:    cfg.Currency,
		ReturnURL:   cfg.BaseURL + "/checkout/return",
		CancelURL:   cfg.BaseURL + "/checkout/cancel",
	}

	srvMetrics := metrics.NewServerMetrics("storefront")
	app := &server{
		cfg:      cfg,
		pool:     pool,
		products: products,
		ledger:   ledger,
		carts:    carts,
		sessions: sessions,
		orders:   orders,
		engine:   engine,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", track(srvMetrics, "health", app.handleHealth))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /api/products", track(srvMetrics, "products", app.handleProducts))
	mux.HandleFunc("GET /api/products/{id}/variants", track(srvMetrics, "product_variants", app.handleVariants))
	mux.HandleFunc("GET /api/cart", track(srvMetrics, "cart_view", app.handleCartView))
	mux.HandleFunc("POST /api/cart/add", track(srvMetrics, "cart_add", app.handleCartAdd))
	mux.HandleFunc("POST /api/cart/update", track(srvMetrics, "cart_update", app.handleCartUpdate))
	mux.HandleFunc("POST /api/cart/remove", track(srvMetrics, "cart_remove", app.handleCartRemove))
	mux.HandleFunc("POST /api/session/end", track(srvMetrics, "session_end", app.handleSessionEnd))
	mux.HandleFunc("POST /api/checkout/create-order", track(srvMetrics, "create_order", app.handleCreateOrder))
	mux.HandleFunc("POST /api/checkout/capture-order", track(srvMetrics, "capture_order", app.handleCaptureOrder))
	mux.HandleFunc("GET /checkout/return", track(srvMetrics, "checkout_return", app.handleReturn))
	mux.HandleFunc("GET /checkout/cancel", track(srvMetrics, "checkout_cancel", app.handleCancel))
	mux.HandleFunc("GET /api/orders/{id}", track(srvMetrics, "order_view", app.handleOrderView))
	mux.HandleFunc("POST /api/orders/{id}/advance", track(srvMetrics, "order_advance", app.handleAdvance))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("storefront listening on :%s (gateway env=%s)", cfg.Port, cfg.PayPalEnv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

type server struct {
	cfg      cfg
	pool     *pgxpool.Pool
	products *catalog.Store
	ledger   *inventory.Ledger
	carts    *cart.Store
	sessions *session.Manager
	orders   *order.Store
	engine   *checkout.Engine
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type productView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
}

func (s *server) handleProducts(w http.ResponseWriter, r *http.Request) {
	items, err := s.products.ActiveProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]productView, 0, len(items))
	for _, p := range items {
		out = append(out, productView{
			ID: p.ID, Name: p.Name, Description: p.Description,
			Price: p.Price.StringFixed(2), Stock: p.Stock,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": out})
}

type variantView struct {
	Color    string `json:"color"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

func (s *server) handleVariants(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid product id"})
		return
	}
	if _, err := s.products.Product(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.ledger.Variants(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]variantView, 0, len(rows))
	for _, v := range rows {
		out = append(out, variantView{Color: v.Color, Size: v.Size, Quantity: v.Quantity})
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "variants": out})
}

type cartLineView struct {
	Key       string `json:"key"`
	ProductID int64  `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

func (s *server) cartView(sessionID string) map[string]any {
	lines := s.carts.Items(sessionID)
	out := make([]cartLineView, 0, len(lines))
	for _, line := range lines {
		out = append(out, cartLineView{
			Key:       line.Key.String(),
			ProductID: line.Key.ProductID,
			Color:     line.Key.Color,
			Size:      line.Key.Size,
			Quantity:  line.Quantity,
		})
	}
	return map[string]any{"items": out, "count": s.carts.Count(sessionID)}
}

func (s *server) handleCartView(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	writeJSON(w, http.StatusOK, s.cartView(sess.ID))
}

func (s *server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	var req struct {
		ProductID int64  `json:"product_id"`
		Color     string `json:"color"`
		Size      string `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if err := s.carts.Add(r.Context(), sess.ID, req.ProductID, req.Color, req.Size); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView(sess.ID))
}

func (s *server) handleCartUpdate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	var req struct {
		Key      string `json:"key"`
		Quantity int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	key, err := cart.ParseKey(req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.carts.SetQuantity(r.Context(), sess.ID, key, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cartView(sess.ID))
}

func (s *server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	key, err := cart.ParseKey(req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	s.carts.Remove(sess.ID, key)
	writeJSON(w, http.StatusOK, s.cartView(sess.ID))
}

// handleSessionEnd drops the server-side session and its cart and expires
// the cookie. The next request starts a fresh anonymous session.
func (s *server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	s.carts.Clear(sess.ID)
	s.sessions.Destroy(sess.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "session_ended"})
}

type createOrderRequest struct {
	Email   string                   `json:"email"`
	Address checkout.ShippingAddress `json:"address"`
}

type createOrderResponse struct {
	OrderID        int64  `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	ApproveURL     string `json:"approve_url,omitempty"`
	Total          string `json:"total,omitempty"`
	Status         string `json:"status"`
}

func (s *server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	// A replayed Idempotency-Key returns the order the first attempt
	// created instead of creating a second one.
	idemKey := idempotency.Key(r)
	if idemKey != "" {
		if existing, err := s.orders.OrderIDByIdempotencyKey(ctx, idemKey); err == nil && existing != 0 {
			writeJSON(w, http.StatusOK, createOrderResponse{OrderID: existing, Status: "IDEMPOTENT_REPLAY"})
			return
		}
	}

	sess.SetEmail(req.Email)
	res, err := s.engine.CreateOrder(ctx, checkout.CreateInput{
		SessionID:      sess.ID,
		CustomerEmail:  req.Email,
		Address:        req.Address,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		if errors.Is(err, order.ErrIdempotencyConflict) && idemKey != "" {
			if existing, qerr := s.orders.OrderIDByIdempotencyKey(ctx, idemKey); qerr == nil && existing != 0 {
				writeJSON(w, http.StatusOK, createOrderResponse{OrderID: existing, Status: "IDEMPOTENT_REPLAY"})
				return
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:        res.OrderID,
		GatewayOrderID: res.GatewayOrderID,
		ApproveURL:     res.ApproveURL,
		Total:          res.Total.StringFixed(2),
		Status:         "pending_payment",
	})
}

type captureResponse struct {
	OrderID   int64  `json:"order_id"`
	CaptureID string `json:"capture_id"`
	Status    string `json:"status"`
}

func (s *server) handleCaptureOrder(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	var req struct {
		GatewayOrderID string `json:"gateway_order_id"`
		OrderID        int64  `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	s.capture(w, r, sess, req.GatewayOrderID, req.OrderID)
}

// handleReturn is the buyer-approval redirect target. The gateway puts its
// order id in the token query parameter.
func (s *server) handleReturn(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	orderID, _ := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
	s.capture(w, r, sess, r.URL.Query().Get("token"), orderID)
}

func (s *server) capture(w http.ResponseWriter, r *http.Request, sess *session.Session, gatewayOrderID string, orderID int64) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	out, err := s.engine.CaptureOrder(ctx, checkout.CaptureInput{
		SessionID:      sess.ID,
		CustomerEmail:  sess.Email(),
		GatewayOrderID: gatewayOrderID,
		OrderID:        orderID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, captureResponse{OrderID: out.OrderID, CaptureID: out.CaptureID, Status: "confirmed"})
}

// handleCancel acknowledges an abandoned approval. Nothing is mutated: the
// order stays pending until captured or cleaned up.
func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

type orderView struct {
	ID            int64           `json:"id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	ShippingFee   string          `json:"shipping_fee"`
	Total         string          `json:"total"`
	Currency      string          `json:"currency"`
	Items         []orderItemView `json:"items"`
}

type orderItemView struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Color       string `json:"color"`
	Size        string `json:"size"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
}

func (s *server) handleOrderView(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Ensure(w, r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid order id"})
		return
	}
	ord, err := s.orders.ByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ord.CustomerEmail == "" || ord.CustomerEmail != sess.Email() {
		writeError(w, order.ErrNotFound)
		return
	}
	items, err := s.orders.Items(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := orderView{
		ID:            ord.ID,
		Status:        string(ord.Status),
		PaymentStatus: ord.Payment.String(),
		ShippingFee:   ord.ShippingFee.StringFixed(2),
		Total:         ord.Total.StringFixed(2),
		Currency:      ord.Currency,
		Items:         make([]orderItemView, 0, len(items)),
	}
	for _, it := range items {
		view.Items = append(view.Items, orderItemView{
			ProductID: it.ProductID, ProductName: it.ProductName,
			Color: it.Color, Size: it.Size, Quantity: it.Quantity,
			Price: it.Price.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminToken == "" || r.Header.Get("X-Admin-Token") != s.cfg.AdminToken {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid order id"})
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if err := s.orders.AdvanceStatus(r.Context(), id, order.Status(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": req.Status})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func track(m *metrics.ServerMetrics, route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		m.Requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]any{"error": err.Error()})
}

func errStatus(err error) int {
	var valErr *checkout.ValidationError
	var stockErr *inventory.StockError
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &valErr),
		errors.Is(err, cart.ErrBadKey),
		errors.Is(err, cart.ErrVariantRequired),
		errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &stockErr),
		errors.Is(err, inventory.ErrOutOfStock),
		errors.Is(err, inventory.ErrInsufficient),
		errors.Is(err, checkout.ErrInconsistentState),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.As(err, new(*gateway.ConfigError)),
		errors.As(err, new(*gateway.AuthError)),
		errors.As(err, new(*gateway.NetError)),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func intenv(k string, def int) int {
	v, err := strconv.Atoi(getenv(k, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func boolenv(k string, def bool) bool {
	v := strings.ToLower(getenv(k, ""))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
