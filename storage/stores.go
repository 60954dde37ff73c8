package storage

import (
	"context"
	"errors"

	"bds-warehouse/config"
	"bds-warehouse/utils"
)

// Stores bundles the handles of the four logical stores. Stores configured
// with the same DSN share one connection pool.
type Stores struct {
	Control   *DB
	Staging   *DB
	Warehouse *DB
	Mart      *DB

	pools []*DB
}

// OpenStores connects to every logical store described by cfg.
func OpenStores(ctx context.Context, cfg config.StoreConfig, logger *utils.Logger) (*Stores, error) {
	byDSN := make(map[string]*DB)
	s := &Stores{}

	open := func(name string) (*DB, error) {
		dsn := cfg.DSNFor(name)
		if db, ok := byDSN[dsn]; ok {
			return db, nil
		}
		logger.Info("[storage] Connecting %s store (%s)", name, cfg.Driver)
		db, err := Open(ctx, cfg.Driver, dsn, cfg.MaxRetries, logger)
		if err != nil {
			return nil, err
		}
		byDSN[dsn] = db
		s.pools = append(s.pools, db)
		return db, nil
	}

	targets := []struct {
		name string
		dst  **DB
	}{
		{"control", &s.Control},
		{"staging", &s.Staging},
		{"warehouse", &s.Warehouse},
		{"mart", &s.Mart},
	}
	for _, t := range targets {
		db, err := open(t.name)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		*t.dst = db
	}
	return s, nil
}

// SingleStore returns Stores whose four logical stores all live in db.
func SingleStore(db *DB) *Stores {
	return &Stores{Control: db, Staging: db, Warehouse: db, Mart: db, pools: []*DB{db}}
}

// Migrate creates the schema of every store.
func (s *Stores) Migrate(ctx context.Context) error {
	pairs := []struct {
		db     *DB
		schema Schema
	}{
		{s.Control, ControlSchema},
		{s.Staging, StagingSchema},
		{s.Warehouse, WarehouseSchema},
		{s.Mart, MartSchema},
	}
	for _, p := range pairs {
		if err := p.db.Migrate(ctx, p.schema); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every distinct pool once.
func (s *Stores) Close() error {
	var errs []error
	for _, db := range s.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.pools = nil
	return errors.Join(errs...)
}
