package storefront

import (
	"context"
	"fmt"
	"time"
)

// State is a checkout step.
type State string

const (
	StateCart         State = "cart"
	StateShipping     State = "shipping"
	StateConfirmation State = "confirmation"
)

// Customer is the shipping form.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Order is the document recorded for a successful checkout.
type Order struct {
	Customer Customer  `json:"customer"`
	Items    []Item    `json:"items"`
	Total    string    `json:"total"`
	Date     time.Time `json:"date"`
}

// State returns the current checkout step.
func (s *Shop) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginCheckout moves from the cart view to the shipping form.
func (s *Shop) BeginCheckout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCart {
		return fmt.Errorf("%w: cannot begin checkout from %s", ErrInvalidState, s.state)
	}
	if len(s.cart) == 0 {
		return ErrEmptyCart
	}
	s.state = StateShipping
	return nil
}

// BackToCart leaves the shipping form or the confirmation.
func (s *Shop) BackToCart() {
	s.mu.Lock()
	s.state = StateCart
	s.mu.Unlock()
}

// SubmitOrder records the order. On failure the shop stays on the shipping
// form with the cart intact; on success the cart is cleared.
func (s *Shop) SubmitOrder(ctx context.Context, c Customer) (*Order, error) {
	s.mu.Lock()
	if s.state != StateShipping {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot submit from %s", ErrInvalidState, st)
	}
	if len(s.cart) == 0 {
		s.mu.Unlock()
		return nil, ErrEmptyCart
	}
	order := &Order{
		Customer: c,
		Items:    append([]Item(nil), s.cart...),
		Total:    formatTotal(s.cart),
		Date:     time.Now().UTC(),
	}
	s.mu.Unlock()

	if err := s.backend.CreateOrder(ctx, s.SiteID, order); err != nil {
		s.logger.Warn("order submission failed", "site", s.SiteID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderFailed, err)
	}

	s.mu.Lock()
	s.cart = nil
	s.state = StateConfirmation
	s.mu.Unlock()
	if err := s.save(ctx); err != nil {
		return order, err
	}
	s.logger.Info("order placed", "site", s.SiteID, "total", order.Total, "items", len(order.Items))
	return order, nil
}
