package ohlcv

import (
	"ohlcv-server/internal/apperror"
)

const (
	// DefaultLimit mirrors the gateway default when no limit is supplied.
	DefaultLimit = 10
	// MaxLimit bounds a single interactive request.
	MaxLimit = 1000
)

type GetBarsRequest struct {
	Market   string
	Asset    string
	Interval string
	Since    int64 // epoch seconds; < 0 means "last Limit periods"
	Limit    int
}

func (r GetBarsRequest) Validate() *apperror.AppError {
	if r.Market == "" {
		return apperror.New(apperror.BadRequest, "market is required")
	}
	if r.Asset == "" {
		return apperror.New(apperror.BadRequest, "asset is required")
	}
	if r.Interval == "" {
		return apperror.New(apperror.BadRequest, "interval is required")
	}
	if r.Limit < 1 || r.Limit > MaxLimit {
		return apperror.New(apperror.BadRequest, "limit must be between 1 and 1000")
	}
	return nil
}
