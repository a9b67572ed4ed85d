package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/seller-ledger/internal/domain"
	"github.com/ayo6706/seller-ledger/internal/models"
	"github.com/ayo6706/seller-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// IntakeService accepts pre-formed orders pushed by the order intake system.
type IntakeService struct {
	store   QueryStore
	hmacKey []byte
	skipSig bool
	audit   *AuditService
	now     func() time.Time
}

func NewIntakeService(store QueryStore, hmacKey string, skipSignature bool) *IntakeService {
	return &IntakeService{
		store:   store,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
		audit:   NewAuditService(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IntakeOrderPayload is the signed body delivered by order intake.
type IntakeOrderPayload struct {
	OrderID     string            `json:"order_id"`
	SellerID    string            `json:"seller_id"`
	LineItems   []models.LineItem `json:"line_items"`
	Total       domain.Money      `json:"total"`
	SellerTotal domain.Money      `json:"seller_total"`
	PaymentMode string            `json:"payment_mode"`
	CreatedAt   *time.Time        `json:"created_at,omitempty"`
}

type IntakeResult struct {
	Order   models.Order `json:"order"`
	Created bool         `json:"created"`
}

// AcceptOrder verifies the signature and stores the order in pending status
// together with its seller mirror row. Redelivery of the same payload is a
// no-op; a different payload for a known order id is ErrConflict.
func (s *IntakeService) AcceptOrder(ctx context.Context, payload []byte, signature string) (*IntakeResult, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var in IntakeOrderPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, domain.Validationf("invalid payload: %v", err)
	}
	order, err := s.orderFromPayload(in)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.Queries().GetOrder(ctx, order.ID); err == nil {
		return sameOrder(existing, order)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup order: %w", err)
	}

	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if err := qtx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := qtx.UpsertSellerOrder(ctx, models.MirrorOf(order)); err != nil {
			return fmt.Errorf("insert seller mirror: %w", err)
		}
		return s.audit.Write(ctx, qtx, domain.EntityOrder, order.ID, nil, "received", "", string(order.Status), nil)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		existing, getErr := s.store.Queries().GetOrder(ctx, order.ID)
		if getErr != nil {
			return nil, fmt.Errorf("lookup order after duplicate insert: %w", getErr)
		}
		return sameOrder(existing, order)
	}
	if err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	zap.L().Info("order received",
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", order.SellerID.String()),
		zap.String("seller_total", order.SellerTotal.String()),
	)
	return &IntakeResult{Order: order, Created: true}, nil
}

func (s *IntakeService) orderFromPayload(in IntakeOrderPayload) (models.Order, error) {
	orderID, err := uuid.Parse(strings.TrimSpace(in.OrderID))
	if err != nil {
		return models.Order{}, domain.Validationf("invalid order_id")
	}
	sellerID, err := uuid.Parse(strings.TrimSpace(in.SellerID))
	if err != nil {
		return models.Order{}, domain.Validationf("invalid seller_id")
	}
	if len(in.LineItems) == 0 {
		return models.Order{}, domain.Validationf("at least one line item is required")
	}
	for i, item := range in.LineItems {
		if strings.TrimSpace(item.ProductID) == "" {
			return models.Order{}, domain.Validationf("line_items[%d].product_id is required", i)
		}
		if item.Quantity <= 0 {
			return models.Order{}, domain.Validationf("line_items[%d].quantity must be positive", i)
		}
		if item.UnitPrice < 0 {
			return models.Order{}, domain.Validationf("line_items[%d].unit_price must not be negative", i)
		}
	}
	if !in.SellerTotal.IsPositive() {
		return models.Order{}, domain.Validationf("seller_total must be greater than zero")
	}
	if in.SellerTotal > in.Total {
		return models.Order{}, domain.Validationf("seller_total must not exceed total")
	}
	mode := strings.ToLower(strings.TrimSpace(in.PaymentMode))
	if mode != domain.PaymentModeOnline && mode != domain.PaymentModeCOD {
		return models.Order{}, domain.Validationf("unsupported payment_mode %q", in.PaymentMode)
	}

	createdAt := s.now()
	if in.CreatedAt != nil {
		createdAt = in.CreatedAt.UTC()
	}
	return models.Order{
		ID:          orderID,
		SellerID:    sellerID,
		LineItems:   in.LineItems,
		Total:       in.Total,
		SellerTotal: in.SellerTotal,
		PaymentMode: mode,
		Status:      domain.OrderStatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// sameOrder compares the immutable intake fields of a stored order with a redelivery.
func sameOrder(existing, incoming models.Order) (*IntakeResult, error) {
	if existing.SellerID != incoming.SellerID ||
		existing.Total != incoming.Total ||
		existing.SellerTotal != incoming.SellerTotal ||
		existing.PaymentMode != incoming.PaymentMode ||
		!slices.Equal(existing.LineItems, incoming.LineItems) {
		return nil, fmt.Errorf("%w: order %s was already received with a different payload", domain.ErrConflict, incoming.ID)
	}
	return &IntakeResult{Order: existing, Created: false}, nil
}

func (s *IntakeService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
