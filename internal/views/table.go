package views

import (
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/api"
	"dinerlive/internal/binding"
	"dinerlive/internal/topic"
	"dinerlive/internal/transport"
)

// TableBoard shows table statuses. Status pushes carry everything needed, so
// they are applied directly without a fetch.
type TableBoard struct {
	binding *binding.MessageBinding
	logger  zerolog.Logger

	mu       sync.Mutex
	tables   *list[int64, api.Table]
	onChange func(api.Table)
}

// NewTableBoard creates an empty TableBoard
func NewTableBoard(tr binding.Transport, opts Options) *TableBoard {
	logger := opts.Logger.With().Str("view", "tables").Logger()
	return &TableBoard{
		binding: binding.NewMessageBinding(tr, logger),
		logger:  logger,
		tables:  newList(tableKey, nil),
	}
}

func tableKey(t api.Table) int64 { return t.ID }

// OnChange registers fn to be called with every table whose status changed
func (v *TableBoard) OnChange(fn func(api.Table)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open shows tables and follows status changes
func (v *TableBoard) Open(tables []api.Table) {
	v.mu.Lock()
	v.tables.reset(tables)
	v.mu.Unlock()

	v.binding.Bind(topic.TableStatus(), v.handle)
}

// Tables returns the displayed tables
func (v *TableBoard) Tables() []api.Table {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tables.snapshot()
}

// Close stops following status changes
func (v *TableBoard) Close() {
	v.binding.Close()
}

func (v *TableBoard) handle(msg transport.Message) {
	change, err := topic.DecodeTableStatus(msg)
	if err != nil {
		v.logger.Warn().Err(err).Msg("ignoring malformed table status")
		return
	}

	v.mu.Lock()
	table, ok := v.tables.get(change.TableID)
	if !ok {
		v.mu.Unlock()
		v.logger.Debug().Int64("table", change.TableID).Msg("status for unknown table")
		return
	}
	table.StatusID = change.StatusID
	v.tables.set(table.ID, table)
	notify := v.onChange
	v.mu.Unlock()

	v.logger.Info().Int64("table", table.ID).Int64("status", table.StatusID).Msg("table status changed")
	if notify != nil {
		notify(table)
	}
}
