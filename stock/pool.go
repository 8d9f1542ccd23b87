// stock/pool.go

// Package stock lists and reads the units that can be dealt for a cookie
// type. A listing is a snapshot; pools are never mutated by a claim.
package stock

import (
	"context"
	"errors"
	"io"
)

var ErrSourceNotConfigured = errors.New("stock source not configured")

// Pool is one stock source.
type Pool interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, unit string) (io.ReadCloser, error)
}

// Writer is implemented by pools that accept new units.
type Writer interface {
	Put(ctx context.Context, unit string, body io.Reader, size int64) error
}

// Source resolves a catalog stock_source string to a Pool.
type Source interface {
	PoolFor(source string) (Pool, error)
}

const (
	StatusWellStocked = "well_stocked"
	StatusMedium      = "medium"
	StatusLow         = "low"
	StatusOutOfStock  = "out_of_stock"
	StatusUnavailable = "not_configured"
)

// Status buckets an available count.
func Status(available int) string {
	switch {
	case available > 20:
		return StatusWellStocked
	case available > 10:
		return StatusMedium
	case available > 0:
		return StatusLow
	default:
		return StatusOutOfStock
	}
}

// ReadUnit opens unit and reads it fully, up to limit bytes.
func ReadUnit(ctx context.Context, p Pool, unit string, limit int64) ([]byte, error) {
	rc, err := p.Open(ctx, unit)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, limit))
}
