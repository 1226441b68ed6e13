package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orders     *service.OrderService
	verifier   *service.PaymentVerifier
	reconciler *service.PaymentReconciler
	ingress    *webhook.Ingress
	sigHeader  string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	verifier *service.PaymentVerifier,
	reconciler *service.PaymentReconciler,
	ingress *webhook.Ingress,
	sigHeader string,
) *Handler {
	return &Handler{
		orders:     orders,
		verifier:   verifier,
		reconciler: reconciler,
		ingress:    ingress,
		sigHeader:  sigHeader,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.checkout)
		v1.POST("/orders/status", h.orderStatus)
		v1.POST("/orders/cancel", h.cancelOrder)
		v1.POST("/payments/verify", h.verifyPayment)
		v1.POST("/webhooks/payment", h.paymentWebhook)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type checkoutItemRequest struct {
	ProductType string `json:"product_type" binding:"required,oneof=template tool"`
	ProductID   int64  `json:"product_id" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
}

type checkoutRequest struct {
	CustomerName    string                `json:"customer_name" binding:"required"`
	CustomerEmail   string                `json:"customer_email" binding:"required,email"`
	CustomerPhone   string                `json:"customer_phone"`
	SessionID       string                `json:"session_id" binding:"required"`
	Items           []checkoutItemRequest `json:"items" binding:"required,min=1,dive"`
	AffiliateCode   string                `json:"affiliate_code"`
	DiscountPercent int                   `json:"discount_percent"`
	DomainID        *int64                `json:"domain_id"`
	IdempotencyKey  string                `json:"idempotency_key"`
}

// checkout handles order creation
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	cart := models.CartContext{
		SessionID:       req.SessionID,
		AffiliateCode:   req.AffiliateCode,
		DiscountPercent: req.DiscountPercent,
		DomainID:        req.DomainID,
	}
	for _, item := range req.Items {
		cart.Items = append(cart.Items, models.CartItem{
			ProductType: item.ProductType,
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
		})
	}

	resp, err := h.orders.Checkout(c.Request.Context(), cart, service.CustomerInfo{
		Name:  req.CustomerName,
		Email: req.CustomerEmail,
		Phone: req.CustomerPhone,
	}, req.IdempotencyKey)

	switch {
	case errors.Is(err, store.ErrDomainUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "Domain is no longer available"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown product in cart"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
	default:
		c.JSON(http.StatusCreated, resp)
	}
}

type verifyRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// verifyPayment handles the client-initiated verification path
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	resp, err := h.verifier.Verify(c.Request.Context(), req.Reference)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Verification failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

type statusRequest struct {
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference"`
}

// orderStatus handles the customer status poll
func (h *Handler) orderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.OrderID == 0 && req.Reference == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id or reference required"})
		return
	}

	resp, err := h.orders.Status(c.Request.Context(), req.OrderID, req.Reference)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Status check failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

type cancelRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

// cancelOrder handles user-initiated cancellation
func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.orders.Cancel(c.Request.Context(), req.OrderID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, service.ErrCancelNotAllowed):
		c.JSON(http.StatusConflict, gin.H{"error": "Order can no longer be cancelled"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cancellation failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": models.OrderStatusCancelled})
	}
}

// paymentWebhook handles asynchronous gateway events. Rejections respond
// generically; no detail distinguishes a bad signature from a bad source.
func (h *Handler) paymentWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": false})
		return
	}

	result := h.ingress.Ingest(c.Request.Context(), rawBody,
		c.GetHeader(h.sigHeader), c.ClientIP())

	switch result.Verdict {
	case models.VerdictRejected:
		if result.Reason == webhook.ReasonRateLimit {
			c.JSON(http.StatusTooManyRequests, gin.H{"status": false})
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"status": false})
		}
		return
	case models.VerdictIgnored:
		c.JSON(http.StatusOK, gin.H{"status": true})
		return
	}

	outcome := service.OutcomeSuccess
	if result.Event.Type == webhook.EventChargeFailed {
		outcome = service.OutcomeFailure
	}

	_, err = h.reconciler.Reconcile(c.Request.Context(), service.SourceWebhook,
		result.Event.Reference, outcome,
		service.GatewayPayload{Amount: result.Event.Amount, Raw: result.Event.Raw})
	if err != nil {
		// Internal failure: a 500 makes the provider redeliver, which the
		// idempotency contract absorbs.
		c.JSON(http.StatusInternalServerError, gin.H{"status": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
