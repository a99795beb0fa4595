package views

import (
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/api"
	"dinerlive/internal/binding"
	"dinerlive/internal/topic"
)

// ReservationList shows reservations and upserts any reservation the server
// announces
type ReservationList struct {
	binding *binding.UpdateBinding[string, api.Reservation]
	fetch   binding.Fetcher[string, api.Reservation]
	logger  zerolog.Logger

	mu           sync.Mutex
	reservations *list[string, api.Reservation]
	onChange     func(api.Reservation, []api.Reservation)
}

// NewReservationList creates an empty ReservationList
func NewReservationList(tr binding.Transport, fetch binding.Fetcher[string, api.Reservation], opts Options) (*ReservationList, error) {
	policy, err := newPolicy[string](opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With().Str("view", "reservations").Logger()
	return &ReservationList{
		binding:      binding.NewUpdateBinding[string, api.Reservation](tr, policy, logger),
		fetch:        fetch,
		logger:       logger,
		reservations: newList(reservationKey, nil),
	}, nil
}

func reservationKey(r api.Reservation) string { return r.PublicID }

// OnChange registers fn to be called with the changed reservation and the list
func (v *ReservationList) OnChange(fn func(api.Reservation, []api.Reservation)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open shows reservations and follows the reservation topic
func (v *ReservationList) Open(reservations []api.Reservation) {
	v.mu.Lock()
	v.reservations.reset(reservations)
	v.mu.Unlock()

	v.binding.Bind(topic.ReservationChanges(), v.fetch, v.apply, topic.ReservationPublicID)
}

// Reservations returns the displayed reservations
func (v *ReservationList) Reservations() []api.Reservation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reservations.snapshot()
}

// Close stops following updates
func (v *ReservationList) Close() {
	v.binding.Close()
}

func (v *ReservationList) apply(r api.Reservation) {
	v.mu.Lock()
	v.reservations.upsert(r, true)
	snapshot, notify := v.reservations.snapshot(), v.onChange
	v.mu.Unlock()

	v.logger.Info().Str("reservation", r.PublicID).Str("status", r.Status).Msg("reservation updated")
	if notify != nil {
		notify(r, snapshot)
	}
}
