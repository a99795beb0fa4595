// Package topic maps entity types and ids to broker destinations and push
// payloads back to the id of the entity they concern.
package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the destination prefix of every server broadcast
const Prefix = "/topic/"

// EntityType identifies the kind of entity a topic carries
type EntityType string

const (
	Menu         EntityType = "menu"
	Combo        EntityType = "combo"
	Order        EntityType = "order"
	Reservations EntityType = "reservations"
	Tables       EntityType = "tables"
)

// Scope tells whether a topic concerns a single entity or any entity of its type
type Scope int

const (
	// CollectionScope topics carry messages about any entity of the type
	CollectionScope Scope = iota
	// EntityScope topics carry messages about exactly one entity
	EntityScope
	// DeleteScope topics carry deletion notices for any entity of the type
	DeleteScope
)

func (s Scope) String() string {
	switch s {
	case EntityScope:
		return "entity"
	case DeleteScope:
		return "delete"
	default:
		return "collection"
	}
}

const deleteSuffix = "delete"

var (
	// ErrMissingID is returned when a push payload lacks the correlation id
	ErrMissingID = errors.New("topic: message has no entity id")
	// ErrUnknownTopic is returned by Parse for destinations outside the convention
	ErrUnknownTopic = errors.New("topic: unknown topic")
)

// MenuItem returns the update topic of one menu item
func MenuItem(id int64) string {
	return entityTopic(Menu, strconv.FormatInt(id, 10))
}

// ComboItem returns the update topic of one combo
func ComboItem(id int64) string {
	return entityTopic(Combo, strconv.FormatInt(id, 10))
}

// ComboDelete returns the combo deletion topic
func ComboDelete() string {
	return entityTopic(Combo, deleteSuffix)
}

// Orders returns the collection topic for order changes
func Orders() string {
	return Prefix + string(Order)
}

// ReservationChanges returns the collection topic for reservation changes
func ReservationChanges() string {
	return Prefix + string(Reservations)
}

// TableStatus returns the collection topic for table status changes
func TableStatus() string {
	return Prefix + string(Tables)
}

func entityTopic(t EntityType, suffix string) string {
	return Prefix + string(t) + "/" + suffix
}

// Address is a parsed topic
type Address struct {
	Type  EntityType
	Scope Scope
	ID    int64
}

// String rebuilds the destination
func (a Address) String() string {
	switch a.Scope {
	case EntityScope:
		return entityTopic(a.Type, strconv.FormatInt(a.ID, 10))
	case DeleteScope:
		return entityTopic(a.Type, deleteSuffix)
	default:
		return Prefix + string(a.Type)
	}
}

// Parse maps a destination back to its entity type, scope and id
func Parse(destination string) (Address, error) {
	rest, ok := strings.CutPrefix(destination, Prefix)
	if !ok || rest == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrUnknownTopic, destination)
	}
	name, suffix, hasSuffix := strings.Cut(rest, "/")
	t := EntityType(name)

	switch t {
	case Menu, Combo:
		if !hasSuffix {
			return Address{}, fmt.Errorf("%w: %q needs an id", ErrUnknownTopic, destination)
		}
		if t == Combo && suffix == deleteSuffix {
			return Address{Type: t, Scope: DeleteScope}, nil
		}
		id, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil || id <= 0 {
			return Address{}, fmt.Errorf("%w: bad id in %q", ErrUnknownTopic, destination)
		}
		return Address{Type: t, Scope: EntityScope, ID: id}, nil
	case Order, Reservations, Tables:
		if hasSuffix {
			return Address{}, fmt.Errorf("%w: %q", ErrUnknownTopic, destination)
		}
		return Address{Type: t, Scope: CollectionScope}, nil
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrUnknownTopic, destination)
	}
}
