package topic

import (
	"encoding/json"
	"fmt"

	"dinerlive/internal/transport"
)

// MenuItemChanged is pushed on /topic/menu/{id}
type MenuItemChanged struct {
	MenuItemID int64 `json:"menuItemId"`
}

// ComboChanged is pushed on /topic/combo/{id}
type ComboChanged struct {
	ComboID int64 `json:"comboId"`
}

// ComboDeleted is pushed on /topic/combo/delete
type ComboDeleted struct {
	ComboID int64 `json:"comboId"`
}

// OrderChanged is pushed on /topic/order
type OrderChanged struct {
	OrderPublicID string `json:"orderPublicId"`
	Status        string `json:"status"`
}

// ReservationChanged is pushed on /topic/reservations
type ReservationChanged struct {
	ReservationPublicID string `json:"reservationPublicId"`
}

// TableStatusChanged is pushed on /topic/tables. The payload is self-sufficient.
type TableStatusChanged struct {
	TableID  int64 `json:"tableId"`
	StatusID int64 `json:"statusId"`
}

func decode[T any](msg transport.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Body, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s payload: %w", msg.Topic, err)
	}
	return v, nil
}

// MenuItemID extracts the menu item id from a menu update
func MenuItemID(msg transport.Message) (int64, error) {
	v, err := decode[MenuItemChanged](msg)
	if err != nil {
		return 0, err
	}
	if v.MenuItemID == 0 {
		return 0, fmt.Errorf("%w: menuItemId", ErrMissingID)
	}
	return v.MenuItemID, nil
}

// ComboID extracts the combo id from a combo update
func ComboID(msg transport.Message) (int64, error) {
	v, err := decode[ComboChanged](msg)
	if err != nil {
		return 0, err
	}
	if v.ComboID == 0 {
		return 0, fmt.Errorf("%w: comboId", ErrMissingID)
	}
	return v.ComboID, nil
}

// OrderPublicID extracts the order public id from an order update
func OrderPublicID(msg transport.Message) (string, error) {
	v, err := decode[OrderChanged](msg)
	if err != nil {
		return "", err
	}
	if v.OrderPublicID == "" {
		return "", fmt.Errorf("%w: orderPublicId", ErrMissingID)
	}
	return v.OrderPublicID, nil
}

// ReservationPublicID extracts the reservation public id from a reservation update
func ReservationPublicID(msg transport.Message) (string, error) {
	v, err := decode[ReservationChanged](msg)
	if err != nil {
		return "", err
	}
	if v.ReservationPublicID == "" {
		return "", fmt.Errorf("%w: reservationPublicId", ErrMissingID)
	}
	return v.ReservationPublicID, nil
}

// DecodeComboDeleted decodes a deletion notice
func DecodeComboDeleted(msg transport.Message) (ComboDeleted, error) {
	v, err := decode[ComboDeleted](msg)
	if err != nil {
		return v, err
	}
	if v.ComboID == 0 {
		return v, fmt.Errorf("%w: comboId", ErrMissingID)
	}
	return v, nil
}

// DecodeOrderChanged decodes an order notice including its status
func DecodeOrderChanged(msg transport.Message) (OrderChanged, error) {
	v, err := decode[OrderChanged](msg)
	if err != nil {
		return v, err
	}
	if v.OrderPublicID == "" {
		return v, fmt.Errorf("%w: orderPublicId", ErrMissingID)
	}
	return v, nil
}

// DecodeTableStatus decodes a table status change
func DecodeTableStatus(msg transport.Message) (TableStatusChanged, error) {
	v, err := decode[TableStatusChanged](msg)
	if err != nil {
		return v, err
	}
	if v.TableID == 0 {
		return v, fmt.Errorf("%w: tableId", ErrMissingID)
	}
	return v, nil
}
