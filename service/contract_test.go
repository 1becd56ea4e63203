package service

import (
	"context"
	"errors"
	"testing"

	"github.com/upshift01/upshift-sub003/model"
)

func newEngine(t *testing.T, provider CheckoutProvider) (*MemoryStore, *ContractService, *MilestoneService) {
	t.Helper()
	store := NewMemoryStore()
	payments := NewPaymentService(store, provider, testPaymentsConfig())
	return store, NewContractService(store, payments), NewMilestoneService(store, payments)
}

func createDraft(t *testing.T, contracts *ContractService, milestones ...MilestoneInput) (*model.Contract, []*model.Milestone) {
	t.Helper()
	total := int64(0)
	for _, m := range milestones {
		total += m.Amount
	}
	if total == 0 {
		total = 5000
	}
	contract, ms, err := contracts.Create(context.Background(), &CreateContractInput{
		EmployerID:      "emp-1",
		ContractorID:    "con-1",
		Title:           "CV rewrite",
		PaymentAmount:   total,
		PaymentCurrency: "USD",
		Milestones:      milestones,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return contract, ms
}

func activate(t *testing.T, contracts *ContractService, contractID string) *model.Contract {
	t.Helper()
	ctx := context.Background()
	if _, err := contracts.Sign(ctx, contractID, "emp-1"); err != nil {
		t.Fatalf("employer sign failed: %v", err)
	}
	contract, err := contracts.Sign(ctx, contractID, "con-1")
	if err != nil {
		t.Fatalf("contractor sign failed: %v", err)
	}
	return contract
}

func TestCreateContract(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})

	contract, ms := createDraft(t, contracts,
		MilestoneInput{Title: "draft", Amount: 1000},
		MilestoneInput{Title: "final", Amount: 2000},
	)

	if contract.Status != model.ContractDraft {
		t.Errorf("Expected draft, got %s", contract.Status)
	}
	if !contract.HasMilestones {
		t.Error("Expected has_milestones true")
	}
	if len(ms) != 2 {
		t.Fatalf("Expected 2 milestones, got %d", len(ms))
	}
	for _, m := range ms {
		if m.Status != model.MilestonePending {
			t.Errorf("Expected milestone pending, got %s", m.Status)
		}
		if m.ContractID != contract.ID {
			t.Errorf("Expected contract_id %s, got %s", contract.ID, m.ContractID)
		}
	}
}

func TestCreateContractValidation(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	ctx := context.Background()

	tests := []struct {
		name  string
		input *CreateContractInput
	}{
		{
			"same party on both sides",
			&CreateContractInput{EmployerID: "u-1", ContractorID: "u-1", PaymentAmount: 1000, PaymentCurrency: "USD"},
		},
		{
			"zero amount",
			&CreateContractInput{EmployerID: "emp-1", ContractorID: "con-1", PaymentAmount: 0, PaymentCurrency: "USD"},
		},
		{
			"negative amount",
			&CreateContractInput{EmployerID: "emp-1", ContractorID: "con-1", PaymentAmount: -5, PaymentCurrency: "USD"},
		},
		{
			"missing currency",
			&CreateContractInput{EmployerID: "emp-1", ContractorID: "con-1", PaymentAmount: 1000},
		},
		{
			"milestones do not sum to total",
			&CreateContractInput{
				EmployerID: "emp-1", ContractorID: "con-1", PaymentAmount: 3000, PaymentCurrency: "USD",
				Milestones: []MilestoneInput{{Title: "draft", Amount: 1000}, {Title: "final", Amount: 1000}},
			},
		},
		{
			"milestone with zero amount",
			&CreateContractInput{
				EmployerID: "emp-1", ContractorID: "con-1", PaymentAmount: 1000, PaymentCurrency: "USD",
				Milestones: []MilestoneInput{{Title: "draft", Amount: 1000}, {Title: "free", Amount: 0}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := contracts.Create(ctx, tt.input); !errors.Is(err, model.ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSignActivatesWhenBothSign(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)
	ctx := context.Background()

	first, err := contracts.Sign(ctx, contract.ID, "con-1")
	if err != nil {
		t.Fatalf("first sign failed: %v", err)
	}
	if first.Status != model.ContractDraft {
		t.Errorf("Expected still draft after one signature, got %s", first.Status)
	}

	second, err := contracts.Sign(ctx, contract.ID, "emp-1")
	if err != nil {
		t.Fatalf("second sign failed: %v", err)
	}
	if second.Status != model.ContractActive {
		t.Errorf("Expected active after both signatures, got %s", second.Status)
	}
}

func TestSignIdempotent(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)
	ctx := context.Background()

	if _, err := contracts.Sign(ctx, contract.ID, "emp-1"); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	again, err := contracts.Sign(ctx, contract.ID, "emp-1")
	if err != nil {
		t.Fatalf("re-sign should be a no-op, got %v", err)
	}
	if again.Status != model.ContractDraft {
		t.Errorf("Expected still draft, got %s", again.Status)
	}
	if !again.EmployerSigned || again.ContractorSigned {
		t.Errorf("Unexpected signature flags: employer=%v contractor=%v", again.EmployerSigned, again.ContractorSigned)
	}
}

func TestSignByStranger(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)

	if _, err := contracts.Sign(context.Background(), contract.ID, "stranger"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestCompleteRequiresActive(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)

	if _, err := contracts.Complete(context.Background(), contract.ID, "emp-1"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition completing a draft, got %v", err)
	}
}

func TestCompleteByContractor(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)
	activate(t, contracts, contract.ID)

	if _, err := contracts.Complete(context.Background(), contract.ID, "con-1"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestCompleteActive(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)
	activate(t, contracts, contract.ID)

	done, err := contracts.Complete(context.Background(), contract.ID, "emp-1")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != model.ContractCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}
}

func TestCancel(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	ctx := context.Background()

	t.Run("requires a reason", func(t *testing.T) {
		contract, _ := createDraft(t, contracts)
		if _, err := contracts.Cancel(ctx, contract.ID, "emp-1", ""); !errors.Is(err, model.ErrValidation) {
			t.Errorf("Expected ErrValidation for empty reason, got %v", err)
		}
	})

	t.Run("either party may cancel", func(t *testing.T) {
		contract, _ := createDraft(t, contracts)
		got, err := contracts.Cancel(ctx, contract.ID, "con-1", "scope changed")
		if err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if got.Status != model.ContractCancelled {
			t.Errorf("Expected cancelled, got %s", got.Status)
		}
		if got.CancelReason != "scope changed" {
			t.Errorf("Expected reason recorded, got %q", got.CancelReason)
		}
	})

	t.Run("terminal contracts stay terminal", func(t *testing.T) {
		contract, _ := createDraft(t, contracts)
		if _, err := contracts.Cancel(ctx, contract.ID, "emp-1", "first"); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if _, err := contracts.Cancel(ctx, contract.ID, "emp-1", "second"); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition cancelling twice, got %v", err)
		}
	})
}

func TestGetVisibility(t *testing.T) {
	_, contracts, _ := newEngine(t, &fakeProvider{})
	contract, _ := createDraft(t, contracts)
	ctx := context.Background()

	if _, _, err := contracts.Get(ctx, contract.ID, "emp-1"); err != nil {
		t.Errorf("employer should see the contract: %v", err)
	}
	if _, _, err := contracts.Get(ctx, contract.ID, "con-1"); err != nil {
		t.Errorf("contractor should see the contract: %v", err)
	}
	if _, _, err := contracts.Get(ctx, contract.ID, "stranger"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for a stranger, got %v", err)
	}
}

func TestContractPay(t *testing.T) {
	provider := &fakeProvider{}
	_, contracts, _ := newEngine(t, provider)
	contract, _ := createDraft(t, contracts)
	activate(t, contracts, contract.ID)
	ctx := context.Background()

	result, err := contracts.Pay(ctx, contract.ID, "emp-1")
	if err != nil {
		t.Fatalf("Pay failed: %v", err)
	}
	if result.Status != model.SessionPending {
		t.Errorf("Expected pending, got %s", result.Status)
	}
	if result.Session.RedirectURL == "" {
		t.Error("Expected a redirect URL")
	}

	// A second pay reuses the open session instead of opening another.
	again, err := contracts.Pay(ctx, contract.ID, "emp-1")
	if err != nil {
		t.Fatalf("second Pay failed: %v", err)
	}
	if again.Session.SessionID != result.Session.SessionID {
		t.Errorf("Expected the open session to be reused, got %s and %s",
			result.Session.SessionID, again.Session.SessionID)
	}
	if provider.createCalls != 1 {
		t.Errorf("Expected 1 provider session, got %d", provider.createCalls)
	}
}

func TestContractPayGuards(t *testing.T) {
	provider := &fakeProvider{}
	_, contracts, _ := newEngine(t, provider)
	ctx := context.Background()

	t.Run("contractor cannot pay", func(t *testing.T) {
		contract, _ := createDraft(t, contracts)
		activate(t, contracts, contract.ID)
		if _, err := contracts.Pay(ctx, contract.ID, "con-1"); !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("draft cannot be paid", func(t *testing.T) {
		contract, _ := createDraft(t, contracts)
		if _, err := contracts.Pay(ctx, contract.ID, "emp-1"); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("milestone contracts pay per milestone", func(t *testing.T) {
		contract, _ := createDraft(t, contracts, MilestoneInput{Title: "only", Amount: 5000})
		activate(t, contracts, contract.ID)
		if _, err := contracts.Pay(ctx, contract.ID, "emp-1"); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})
}

// TestMilestoneEscrowFlow walks the full happy path: a 3000 contract split
// into 1000+2000, both milestones delivered, approved and paid, then the
// contract completed.
func TestMilestoneEscrowFlow(t *testing.T) {
	provider := &fakeProvider{statuses: []string{model.SessionPaid}}
	store, contracts, milestones := newEngine(t, provider)
	payments := NewPaymentService(store, provider, testPaymentsConfig())
	ctx := context.Background()

	contract, ms := createDraft(t, contracts,
		MilestoneInput{Title: "draft CV", Amount: 1000},
		MilestoneInput{Title: "final CV", Amount: 2000},
	)
	activate(t, contracts, contract.ID)

	for _, m := range ms {
		if _, err := milestones.Submit(ctx, contract.ID, m.ID, "con-1", "done"); err != nil {
			t.Fatalf("Submit %s failed: %v", m.Title, err)
		}
		if _, err := milestones.Approve(ctx, contract.ID, m.ID, "emp-1"); err != nil {
			t.Fatalf("Approve %s failed: %v", m.Title, err)
		}
		result, err := milestones.Pay(ctx, contract.ID, m.ID, "emp-1")
		if err != nil {
			t.Fatalf("Pay %s failed: %v", m.Title, err)
		}
		provider.amount = m.Amount
		provider.currency = "USD"
		if _, err := payments.VerifyAndCommit(ctx, result.Session.SessionID); err != nil {
			t.Fatalf("VerifyAndCommit %s failed: %v", m.Title, err)
		}
	}

	cur, _ := store.GetContract(ctx, contract.ID)
	if cur.TotalPaid != 3000 {
		t.Errorf("Expected total_paid 3000, got %d", cur.TotalPaid)
	}

	done, err := contracts.Complete(ctx, contract.ID, "emp-1")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != model.ContractCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}
}
