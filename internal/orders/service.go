package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-pipeline/internal/address"
	"github.com/imrishuroy/go-order-pipeline/internal/errs"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
	"github.com/imrishuroy/go-order-pipeline/internal/validation"
)

// AddressLookup resolves a postal code into an address.
type AddressLookup interface {
	Lookup(ctx context.Context, postalCode string) (*address.Address, error)
}

// KeyTracker records the outcome of a submission against its idempotency key.
type KeyTracker interface {
	MarkDone(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key, note string) error
	// EnqueuePending reports whether the order under key was persisted but
	// never handed to the queue.
	EnqueuePending(ctx context.Context, key string) (bool, error)
}

// Service implements order intake and the order query surface.
type Service struct {
	repo     Repository
	lookup   AddressLookup
	queue    queue.Enqueuer
	keys     KeyTracker
	validate *validatorv10.Validate
	logger   *slog.Logger
	newID    func() string
}

type ServiceOption func(*Service)

func WithKeyTracker(k KeyTracker) ServiceOption {
	return func(s *Service) { s.keys = k }
}

func NewService(repo Repository, lookup AddressLookup, enq queue.Enqueuer, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		lookup:   lookup,
		queue:    enq,
		validate: validation.New(),
		logger:   logger.With("component", "orders.service"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReceiveOrder validates and enriches cmd, persists a RECEIVED order and
// enqueues its processing job. created is false when cmd repeats an
// earlier submission, in which case the original order is returned.
func (s *Service) ReceiveOrder(ctx context.Context, cmd CreateOrderCommand) (order *Order, created bool, err error) {
	if err := validation.Struct(s.validate, cmd); err != nil {
		return nil, false, err
	}

	if cmd.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, cmd.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			return s.replay(ctx, existing)
		}
	}

	addr, err := s.lookup.Lookup(ctx, cmd.Customer.PostalCode)
	if err != nil {
		s.logger.Info("address lookup rejected order", "postal_code", cmd.Customer.PostalCode, "error", err)
		return nil, false, errs.NewValidationErrorWithCause("customer.postal_code", lookupReason(err), err)
	}

	o := s.build(cmd, addr)
	log := s.logger.With("order_id", o.ID, "idempotency_key", o.IdempotencyKey)

	if err := s.repo.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			existing, getErr := s.repo.GetByIdempotencyKey(ctx, o.IdempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("load duplicate order: %w", getErr)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("idempotency key %s reserved without an order: %w", o.IdempotencyKey, err)
			}
			log.Info("concurrent duplicate submission", "existing_order_id", existing.ID)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create order: %w", err)
	}

	if err := s.enqueue(ctx, o); err != nil {
		return nil, false, err
	}

	log.Info("order received")
	return o, true, nil
}

// replay answers a repeated submission. A RECEIVED order whose job may
// never have been enqueued is enqueued again under its own id.
func (s *Service) replay(ctx context.Context, existing *Order) (*Order, bool, error) {
	if existing.Status == StatusReceived {
		pending, err := s.enqueuePending(ctx, existing)
		if err != nil {
			return nil, false, err
		}
		if pending {
			if err := s.enqueue(ctx, existing); err != nil {
				return nil, false, err
			}
		}
	}
	s.logger.Info("duplicate submission", "order_id", existing.ID, "idempotency_key", existing.IdempotencyKey)
	return existing, false, nil
}

// enqueuePending asks the key tracker when there is one. Without it a
// RECEIVED order is only re-enqueued on a queue that drops repeated job
// ids, since its first job may still be waiting.
func (s *Service) enqueuePending(ctx context.Context, o *Order) (bool, error) {
	if s.keys != nil {
		pending, err := s.keys.EnqueuePending(ctx, o.IdempotencyKey)
		if err != nil {
			return false, fmt.Errorf("check enqueue state of %s: %w", o.IdempotencyKey, err)
		}
		return pending, nil
	}
	d, ok := s.queue.(queue.Deduplicator)
	return ok && d.DeduplicatesJobIDs(), nil
}

func (s *Service) enqueue(ctx context.Context, o *Order) error {
	jobID, err := s.queue.Enqueue(ctx, queue.Payload{OrderID: o.ID}, queue.WithJobID(o.ID))
	if err != nil {
		s.logger.Error("order persisted but enqueue failed",
			"order_id", o.ID, "idempotency_key", o.IdempotencyKey, "error", err)
		if s.keys != nil {
			if markErr := s.keys.MarkFailed(ctx, o.IdempotencyKey, fmt.Sprintf("enqueue_failed: %v", err)); markErr != nil {
				s.logger.Error("mark idempotency key failed", "idempotency_key", o.IdempotencyKey, "error", markErr)
			}
		}
		return errs.NewEnqueueError(o.ID, err)
	}
	if s.keys != nil {
		if err := s.keys.MarkDone(ctx, o.IdempotencyKey); err != nil {
			s.logger.Warn("mark idempotency key done", "idempotency_key", o.IdempotencyKey, "error", err)
		}
	}
	s.logger.Debug("order enqueued", "order_id", o.ID, "job_id", jobID)
	return nil
}

func (s *Service) build(cmd CreateOrderCommand, addr *address.Address) *Order {
	key := cmd.IdempotencyKey
	if key == "" {
		key = s.newID()
	}
	items := make([]Item, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		items = append(items, Item{SKU: it.SKU, Quantity: it.Quantity, UnitPrice: NewMoney(it.UnitPrice)})
	}
	total := Total(items)

	return &Order{
		ID:             s.newID(),
		IdempotencyKey: key,
		Customer: Customer{
			Name:         cmd.Customer.Name,
			Email:        cmd.Customer.Email,
			PostalCode:   addr.PostalCode,
			Street:       addr.Street,
			Complement:   addr.Complement,
			Neighborhood: addr.Neighborhood,
			City:         addr.City,
			State:        addr.State,
			StateName:    addr.StateName,
		},
		Items:       items,
		Currency:    strings.ToUpper(cmd.Currency),
		Status:      StatusReceived,
		TotalAmount: &total,
	}
}

func lookupReason(err error) string {
	switch {
	case errors.Is(err, address.ErrInvalidPostalCode):
		return "is invalid"
	case errors.Is(err, address.ErrNotFound):
		return "was not found"
	default:
		return "could not be resolved"
	}
}

// GetOrders lists orders, optionally by status. An empty result is a NotFoundError.
func (s *Service) GetOrders(ctx context.Context, status *Status) (*OrderList, error) {
	list, err := s.repo.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(list) == 0 {
		return nil, errs.NewNotFoundError("orders", "")
	}
	return &OrderList{Count: len(list), Orders: list}, nil
}

// GetOrderByID returns (nil, nil) when the order does not exist.
func (s *Service) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}
