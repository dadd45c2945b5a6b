package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/service"
	"chargehive/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	payments  *service.PaymentService
	wallets   *service.WalletService
	resources *service.ResourceService
}

// NewHandler creates a new HTTP handler
func NewHandler(payments *service.PaymentService, wallets *service.WalletService, resources *service.ResourceService) *Handler {
	return &Handler{
		payments:  payments,
		wallets:   wallets,
		resources: resources,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, jwtSecret string) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(AuthRequired(jwtSecret))
	{
		v1.POST("/wallets", h.provisionWallet)
		v1.GET("/wallets/me", h.walletDetails)
		v1.GET("/wallets/me/transactions", h.walletTransactions)

		v1.GET("/resources/:id/availability", h.checkAvailability)

		v1.POST("/payments", h.initiatePayment)
		v1.POST("/payments/:id/execute", h.executePayment)
		v1.GET("/payments/:id", h.paymentStatus)
		v1.GET("/payments", h.paymentHistory)
		v1.GET("/sessions", h.userSessions)

		provider := v1.Group("/provider")
		provider.Use(ProviderOnly())
		{
			provider.GET("/earnings", h.providerEarnings)
			provider.GET("/resources", h.providerResources)
			provider.POST("/resources", h.registerResource)
			provider.PUT("/resources/:id/status", h.setResourceStatus)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// provisionWallet provisions a custodial wallet for the caller
func (h *Handler) provisionWallet(c *gin.Context) {
	var req service.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.IdentityID = c.GetString(ctxIdentityID)

	resp, err := h.wallets.Provision(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// walletDetails returns the caller's wallet with live account state
func (h *Handler) walletDetails(c *gin.Context) {
	details, err := h.wallets.Details(c.Request.Context(), c.GetString(ctxIdentityID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// walletTransactions returns the caller's recent on-chain transfers
func (h *Handler) walletTransactions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = parsed
	}

	history, err := h.wallets.Transactions(c.Request.Context(), c.GetString(ctxIdentityID), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": history})
}

// checkAvailability reports whether a resource can be booked for a window
func (h *Handler) checkAvailability(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}

	_, err = h.payments.CheckAvailability(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			c.JSON(http.StatusOK, gin.H{"available": false})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true})
}

// initiatePayment quotes a pending payment for a booking slot
func (h *Handler) initiatePayment(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.UserID = c.GetString(ctxIdentityID)

	quote, err := h.payments.Initiate(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quote)
}

// executePayment settles a pending payment
func (h *Handler) executePayment(c *gin.Context) {
	var req service.ExecutePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.PaymentID = c.Param("id")
	req.UserID = c.GetString(ctxIdentityID)

	resp, err := h.payments.Execute(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// paymentStatus reports a payment's state
func (h *Handler) paymentStatus(c *gin.Context) {
	status, err := h.payments.Status(c.Request.Context(), c.Param("id"), c.GetString(ctxIdentityID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// paymentHistory returns the caller's payment history
func (h *Handler) paymentHistory(c *gin.Context) {
	rows, err := h.payments.UserHistory(c.Request.Context(), c.GetString(ctxIdentityID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": rows})
}

// userSessions returns the caller's materialized bookings
func (h *Handler) userSessions(c *gin.Context) {
	sessions, err := h.payments.UserSessions(c.Request.Context(), c.GetString(ctxIdentityID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// providerEarnings aggregates the provider's settled payments
func (h *Handler) providerEarnings(c *gin.Context) {
	earnings, err := h.payments.Earnings(c.Request.Context(), c.GetString(ctxIdentityID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, earnings)
}

// providerResources lists the provider's resources
func (h *Handler) providerResources(c *gin.Context) {
	resources, err := h.resources.ListByProvider(c.Request.Context(), c.GetString(ctxIdentityID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

// registerResource lists a new bookable resource
func (h *Handler) registerResource(c *gin.Context) {
	var req service.RegisterResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.ProviderID = c.GetString(ctxIdentityID)

	resource, err := h.resources.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resource)
}

// setResourceStatus changes a resource's lifecycle status
func (h *Handler) setResourceStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	err := h.resources.SetStatus(c.Request.Context(), c.GetString(ctxIdentityID), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// writeError maps a service error to an HTTP response.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(statusForKind(appErr.Kind), gin.H{
		"error": appErr.Message,
		"kind":  string(appErr.Kind),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindChainFailure:
		return http.StatusBadGateway
	case apperr.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
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
