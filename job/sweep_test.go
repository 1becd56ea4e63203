package job

import (
	"context"
	"testing"

	"github.com/upshift01/upshift-sub003/config"
	"github.com/upshift01/upshift-sub003/model"
	"github.com/upshift01/upshift-sub003/service"
)

type noopProvider struct{}

func (noopProvider) CreateCheckout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutSession, error) {
	return &service.CheckoutSession{SessionID: "sess-1", CheckoutURL: "https://pay.test/sess-1"}, nil
}

func (noopProvider) GetCheckout(ctx context.Context, sessionID string) (*service.CheckoutStatus, error) {
	return &service.CheckoutStatus{SessionID: sessionID, Status: model.SessionPending}, nil
}

func TestStartPaymentSweep(t *testing.T) {
	payments := service.NewPaymentService(service.NewMemoryStore(), noopProvider{}, &config.PaymentsConfig{})

	c, err := StartPaymentSweep(payments, 5)
	if err != nil {
		t.Fatalf("StartPaymentSweep failed: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("Expected 1 scheduled entry, got %d", len(c.Entries()))
	}
	<-c.Stop().Done()
}

func TestStartPaymentSweepDefaultInterval(t *testing.T) {
	payments := service.NewPaymentService(service.NewMemoryStore(), noopProvider{}, &config.PaymentsConfig{})

	c, err := StartPaymentSweep(payments, 0)
	if err != nil {
		t.Fatalf("StartPaymentSweep failed: %v", err)
	}
	defer c.Stop()

	if len(c.Entries()) != 1 {
		t.Errorf("Expected 1 scheduled entry, got %d", len(c.Entries()))
	}
}
