// Package journal records the state changes of the dogs' helper entities in
// ClickHouse.
package journal

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/metrics"
	"github.com/jkaflik/hundesystem/pkg/channel"
)

// Client is the subset of the ClickHouse client the journal needs.
type Client interface {
	Execute(ctx context.Context, query string, r io.Reader) error
	Insert(ctx context.Context, database, table string, rows []any) error
}

type Options struct {
	Database      string
	BatchSize     int
	FlushInterval time.Duration
	// FlushTimeout bounds the final insert after the run context is cancelled.
	FlushTimeout time.Duration
}

func (o *Options) defaults() {
	if o.Database == "" {
		o.Database = "hundesystem"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 10 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 10 * time.Second
	}
}

type Journal struct {
	client Client
	dogs   []dog.ID
	opts   Options
	rows   chan Row
}

func New(client Client, dogs []dog.ID, opts Options) *Journal {
	opts.defaults()
	return &Journal{
		client: client,
		dogs:   dogs,
		opts:   opts,
		rows:   make(chan Row, opts.BatchSize*2),
	}
}

// Record queues a state change. Changes of entities that belong to no
// configured dog are ignored. It reports whether the change was queued.
func (j *Journal) Record(ctx context.Context, data *hass.EventData) bool {
	if data == nil {
		return false
	}

	id, suffix, ok := j.owner(data.EntityID)
	if !ok {
		return false
	}

	row, err := resolveRow(id, suffix, data)
	if err != nil {
		log.Debug().Err(err).Str("entity_id", data.EntityID).Msg("Skipping journal row")
		return false
	}

	select {
	case j.rows <- row:
		return true
	case <-ctx.Done():
		return false
	}
}

func (j *Journal) owner(entityID string) (dog.ID, dog.Suffix, bool) {
	for _, id := range j.dogs {
		if suffix, ok := id.Owns(entityID); ok {
			return id, suffix, true
		}
	}
	return "", "", false
}

// Run creates the schema and inserts queued rows in batches until ctx is
// cancelled. Rows still pending on cancellation are flushed once more.
func (j *Journal) Run(ctx context.Context) error {
	if err := createSchema(ctx, j.client, j.opts.Database); err != nil {
		return err
	}

	log.Info().
		Str("database", j.opts.Database).
		Int("batch_size", j.opts.BatchSize).
		Dur("flush_interval", j.opts.FlushInterval).
		Msg("Journal started")

	in := make(chan Row)
	go func() {
		defer close(in)
		for {
			select {
			case <-ctx.Done():
				return
			case row := <-j.rows:
				select {
				case in <- row:
				case <-ctx.Done():
					j.requeue(row)
					return
				}
			}
		}
	}()

	batches, errs := channel.Batch(in, channel.BatchOptions[Row]{
		MaxSize: j.opts.BatchSize,
		MaxWait: j.opts.FlushInterval,
	})

	for batch := range batches {
		j.insert(ctx, batch)
	}
	for err := range errs {
		log.Error().Err(err).Msg("Journal batching failed")
	}

	j.flushPending()
	return nil
}

func (j *Journal) requeue(row Row) {
	select {
	case j.rows <- row:
	default:
		log.Warn().Str("entity_id", row.EntityID).Msg("Journal queue full, dropping row")
	}
}

// flushPending inserts what is left in the queue after shutdown.
func (j *Journal) flushPending() {
	var rest []Row
	for {
		select {
		case row := <-j.rows:
			rest = append(rest, row)
			continue
		default:
		}
		break
	}
	if len(rest) > 0 {
		j.insert(context.Background(), rest)
	}
}

func (j *Journal) insert(ctx context.Context, batch []Row) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, j.opts.FlushTimeout)
	defer cancel()

	rows := make([]any, len(batch))
	for i := range batch {
		rows[i] = batch[i]
	}

	metrics.JournalBatchSize.Observe(float64(len(rows)))
	if err := j.client.Insert(ctx, j.opts.Database, table, rows); err != nil {
		log.Error().Err(err).Int("rows", len(rows)).Msg("Failed to insert journal rows")
		return
	}
	metrics.JournalRowsInserted.Add(float64(len(rows)))
	log.Debug().Int("rows", len(rows)).Msg("Inserted journal rows")
}

func marshalAttributes(attrs map[string]any) (string, error) {
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return string(data), nil
}
