package ledger

import (
	"context"
	"fmt"

	"github.com/example/watershed-core/internal/money"
	"github.com/example/watershed-core/pkg/audit"
)

// Auditor records ledger mutations on the tamper-evident audit chain.
type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Service is the watershed contract consumed by API handlers and sibling
// services: per-user credit/debit with typed business-rule failures.
type Service struct {
	store   *Store
	auditor Auditor
}

// NewService creates a watershed service. auditor may be nil.
func NewService(store *Store, auditor Auditor) *Service {
	return &Service{store: store, auditor: auditor}
}

// Store returns the underlying ledger store.
func (s *Service) Store() *Store {
	return s.store
}

// CreditRequest describes a watershed credit.
type CreditRequest struct {
	UserID      string      `json:"user_id"`
	Amount      money.Cents `json:"amount"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
}

// DebitRequest describes a watershed debit.
type DebitRequest struct {
	UserID      string      `json:"user_id"`
	Amount      money.Cents `json:"amount"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
}

// BalanceResult reports the post-operation balance.
type BalanceResult struct {
	UserID     string      `json:"user_id"`
	NewBalance money.Cents `json:"new_balance"`
}

// Credit adds funds to the user's watershed.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (*BalanceResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	newBalance, err := s.store.Credit(ctx, KindWatershed, req.UserID, req.Amount, req.Type, req.Description)
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("watershed credit user=%s type=%s amount=%s balance=%s",
		req.UserID, req.Type, req.Amount, newBalance))

	return &BalanceResult{UserID: req.UserID, NewBalance: newBalance}, nil
}

// Debit removes funds from the user's watershed. Returns
// ErrInsufficientFunds when the balance cannot cover the amount.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (*BalanceResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	newBalance, err := s.store.Debit(ctx, KindWatershed, req.UserID, req.Amount, req.Type, req.Description)
	if err != nil {
		return nil, err
	}

	s.audit(fmt.Sprintf("watershed debit user=%s type=%s amount=%s balance=%s",
		req.UserID, req.Type, req.Amount, newBalance))

	return &BalanceResult{UserID: req.UserID, NewBalance: newBalance}, nil
}

// Balance returns the user's watershed account, creating it on first access.
func (s *Service) Balance(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	return s.store.GetOrCreateAccount(ctx, KindWatershed, userID)
}

// Transactions returns the user's watershed transaction log, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	account, err := s.store.GetAccount(ctx, KindWatershed, userID)
	if err != nil {
		return nil, err
	}
	return s.store.Transactions(ctx, account.ID, limit)
}

func (s *Service) audit(payload string) {
	if s.auditor != nil {
		s.auditor.Append(payload)
	}
}
