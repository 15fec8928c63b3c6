package repository

import (
	"context"
	"errors"

	"github.com/septivank/ven-fleet-simulator/internal/db"
)

var (
	// ErrResourceNotFound is returned when no resource matches the given id
	ErrResourceNotFound = errors.New("resource not found")
	// ErrLoadNotFound is returned when no load matches the given id
	ErrLoadNotFound = errors.New("load not found")
	// ErrDuplicateKey is returned when inserting a resource whose id already exists
	ErrDuplicateKey = errors.New("duplicate key")
)

// Catalog is the durable store of resources, their connections and loads.
// Both the Postgres and the embedded SQLite backends implement it.
type Catalog interface {
	InsertConnection(ctx context.Context, conn db.Connection) (int64, error)
	InsertResource(ctx context.Context, resource db.Resource, connectionID int64, ven string) error
	GetResource(ctx context.Context, resourceID string) (*db.Resource, error)
	ListByVen(ctx context.Context, ven string) ([]db.Resource, error)
	ListByStatus(ctx context.Context, ven string, status db.Status) ([]db.Resource, error)
	ListVens(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, resourceID string, status db.Status) error
	AssignMeter(ctx context.Context, resourceID, meterID string) error

	BulkInsertLoads(ctx context.Context, loads []db.Load) error
	SetExternalID(ctx context.Context, loadID, externalID string, status db.Status) error
	ListLoadsWithResources(ctx context.Context, ven string) ([]db.LoadWithResource, error)
	ListRegisteredLoads(ctx context.Context, ven string, limit int) ([]db.Load, error)

	Statistics(ctx context.Context) (*db.CatalogStatistics, error)
	ClearAll(ctx context.Context) error
}
