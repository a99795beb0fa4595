package binding

import (
	"github.com/rs/zerolog"

	"dinerlive/internal/transport"
)

// DeleteBinding passes deletion notices to a callback unmodified. No fetch is
// made; the owner decides what the message identifies.
type DeleteBinding struct {
	*MessageBinding
}

// NewDeleteBinding creates an unbound DeleteBinding
func NewDeleteBinding(tr Transport, logger zerolog.Logger) *DeleteBinding {
	return &DeleteBinding{
		MessageBinding: NewMessageBinding(tr, logger.With().Str("kind", "delete").Logger()),
	}
}

// Bind subscribes onDelete to topic, replacing the previous subscription
func (b *DeleteBinding) Bind(topic string, onDelete func(transport.Message)) {
	b.MessageBinding.Bind(topic, onDelete)
}
