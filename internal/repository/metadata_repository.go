package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

const metadataKeyPrefix = "ticket:meta:"

// MetadataRepository is the key-value metadata store keyed by ticket_id.
type MetadataRepository interface {
	// Put upserts the record for rec.TicketID.
	Put(ctx context.Context, rec domain.MetadataRecord) error
	Get(ctx context.Context, ticketID string) (*domain.MetadataRecord, error)
}

type metadataRepository struct {
	client *redis.Client
}

// NewMetadataRepository builds a Redis-backed metadata store.
func NewMetadataRepository(client *redis.Client) MetadataRepository {
	return &metadataRepository{client: client}
}

func (r *metadataRepository) Put(ctx context.Context, rec domain.MetadataRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.NewPermanent("metadata put", err)
	}
	return r.client.Set(ctx, metadataKeyPrefix+rec.TicketID, data, 0).Err()
}

func (r *metadataRepository) Get(ctx context.Context, ticketID string) (*domain.MetadataRecord, error) {
	data, err := r.client.Get(ctx, metadataKeyPrefix+ticketID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("metadata %s: %w", ticketID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec domain.MetadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", ticketID, err)
	}
	return &rec, nil
}
