package http

import (
	"errors"
	"net/http"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/services/matching"
)

// errorStatus maps a service error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrWalletNotConnected):
		return http.StatusBadRequest, "wallet_not_connected"
	case errors.Is(err, entity.ErrSelfTrade):
		return http.StatusBadRequest, "self_trade"
	case errors.Is(err, entity.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid_order"
	case errors.Is(err, entity.ErrNotCrossing):
		return http.StatusBadRequest, "not_crossing"
	case errors.Is(err, entity.ErrInvalidProof):
		return http.StatusForbidden, "invalid_proof"
	case errors.Is(err, entity.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, entity.ErrUnknownContract):
		return http.StatusNotFound, "unknown_contract"
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, entity.ErrDuplicateOrder):
		return http.StatusConflict, "duplicate_order"
	case errors.Is(err, entity.ErrOrderClosed):
		return http.StatusConflict, "order_closed"
	case errors.Is(err, entity.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, entity.ErrUpstream):
		return http.StatusBadGateway, "upstream"
	case errors.Is(err, matching.ErrEngineStopped):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
