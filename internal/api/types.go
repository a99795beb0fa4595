package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound is matched by a StatusError for 404 responses
	ErrNotFound = errors.New("api: entity not found")
	// ErrCircuitOpen is returned without a request while the circuit breaker is open
	ErrCircuitOpen = errors.New("api: circuit breaker open")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) match 404 responses
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// MenuItem is a product on the menu
type MenuItem struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CategoryID  int64     `json:"categoryId,omitempty"`
	Available   bool      `json:"available,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Version implements reconcile.Versioned
func (m MenuItem) Version() int64 { return unixNano(m.UpdatedAt) }

// ComboItem is one menu item inside a combo
type ComboItem struct {
	MenuItemID int64  `json:"menuItemId"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
}

// Combo is a bundle of menu items sold at one price
type Combo struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Price     float64     `json:"price"`
	ImageURL  string      `json:"imageUrl,omitempty"`
	Items     []ComboItem `json:"items,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// Version implements reconcile.Versioned
func (c Combo) Version() int64 { return unixNano(c.UpdatedAt) }

// OrderItem is one line of an order
type OrderItem struct {
	MenuItemID int64   `json:"menuItemId,omitempty"`
	ComboID    int64   `json:"comboId,omitempty"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
}

// Order is identified by its public id
type Order struct {
	PublicID  string      `json:"publicId"`
	Status    string      `json:"status"`
	TableID   int64       `json:"tableId,omitempty"`
	Total     float64     `json:"total"`
	Items     []OrderItem `json:"items,omitempty"`
	CreatedAt time.Time   `json:"createdAt,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// Version implements reconcile.Versioned
func (o Order) Version() int64 { return unixNano(o.UpdatedAt) }

// Reservation is identified by its public id
type Reservation struct {
	PublicID     string    `json:"publicId"`
	CustomerName string    `json:"customerName"`
	Phone        string    `json:"phone,omitempty"`
	PartySize    int       `json:"partySize"`
	ReservedAt   time.Time `json:"reservedAt"`
	Status       string    `json:"status"`
	TableID      int64     `json:"tableId,omitempty"`
	Note         string    `json:"note,omitempty"`
}

// Table is a dining table and its current status
type Table struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity,omitempty"`
	StatusID int64  `json:"statusId"`
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
