package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// stubBillingService запоминает последний вызов Route и возвращает
// заготовленный ответ
type stubBillingService struct {
	capability domain.Capability
	req        domain.BillingRequest
	calls      int
}

func (s *stubBillingService) Route(_ context.Context, capability domain.Capability, req domain.BillingRequest) (*domain.BillingResponse, error) {
	s.capability = capability
	s.req = req
	s.calls++
	return &domain.BillingResponse{OperatorCode: "dtacTH", Status: domain.SubscriptionStatusCancelled}, nil
}

func (s *stubBillingService) RetryDueTransactions(context.Context) int { return 0 }

func (s *stubBillingService) StartRetryLoop(context.Context, time.Duration) {}

func newBillingRouter(svc *stubBillingService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewBillingHandler(svc, logger.New(logger.ERROR))

	r := gin.New()
	r.POST("/api/v1/billing/:capability", h.Execute)
	return r
}

func TestExecuteCancelWithSubscriptionIDOnly(t *testing.T) {
	svc := &stubBillingService{}
	router := newBillingRouter(svc)

	// Операции над существующей подпиской приходят без identifier:
	// абонент восстанавливается из самой подписки
	body := []byte(`{"subscription_id":"3f6f0cb2-9f0a-4f57-9c1e-2a8f6d1f0b42"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/cancelSubscription", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, domain.CapabilityCancelSubscription, svc.capability)
	assert.Empty(t, svc.req.Identifier)
	assert.Equal(t, "3f6f0cb2-9f0a-4f57-9c1e-2a8f6d1f0b42", svc.req.SubscriptionID)
}

func TestExecuteGetStatusWithSubscriptionIDOnly(t *testing.T) {
	svc := &stubBillingService{}
	router := newBillingRouter(svc)

	body := []byte(`{"subscription_id":"3f6f0cb2-9f0a-4f57-9c1e-2a8f6d1f0b42"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/getSubscriptionStatus", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.CapabilityGetSubscriptionStatus, svc.capability)
}

func TestExecuteUnknownCapability(t *testing.T) {
	svc := &stubBillingService{}
	router := newBillingRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/teleportMoney", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, svc.calls)
}
