package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/carbon-dex/internal/domain/entity"
	"github.com/archon-research/carbon-dex/internal/pkg/hexutil"
	"github.com/archon-research/carbon-dex/internal/ports/inbound"
	"github.com/archon-research/carbon-dex/pkg/carbonsdk"
)

// ViewProofHeader carries the owner's view proof on read endpoints.
const ViewProofHeader = "X-View-Proof"

// maxBodyBytes bounds request bodies; a sealed order is well under 1 KiB of hex.
const maxBodyBytes = 64 << 10

// HandlerConfig holds the dependencies of the REST handler.
type HandlerConfig struct {
	Service inbound.ExchangeService
	// Catalog supplies display formatting. Defaults to the launch catalog.
	Catalog *entity.Catalog
	// Stream is mounted on /v1/stream when set.
	Stream *StreamHub
	// SealingKey is the exchange's X25519 public key, hex encoded.
	SealingKey string
	Operator   common.Address
	Logger     *slog.Logger
}

// Handler serves the exchange REST API.
type Handler struct {
	service inbound.ExchangeService
	catalog *entity.Catalog
	stream  *StreamHub
	info    carbonsdk.ExchangeInfo
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("exchange service is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Catalog == nil {
		config.Catalog = entity.DefaultCatalog()
	}
	info := carbonsdk.ExchangeInfo{SealingKey: config.SealingKey, Markets: config.Catalog.Symbols()}
	if config.Operator != (common.Address{}) {
		info.Operator = config.Operator.Hex()
	}
	return &Handler{
		service: config.Service,
		catalog: config.Catalog,
		stream:  config.Stream,
		info:    info,
		logger:  config.Logger.With("component", "http-handler"),
	}, nil
}

// RegisterRoutes registers all HTTP routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/info", h.handleInfo)
	mux.HandleFunc("POST /v1/orders", h.handleCreateOrder)
	mux.HandleFunc("GET /v1/orders/{id}", h.handleGetOrder)
	mux.HandleFunc("DELETE /v1/orders/{id}", h.handleCancelOrder)
	mux.HandleFunc("POST /v1/matches", h.handleMatchOrders)
	mux.HandleFunc("GET /v1/positions/{trader}/{symbol}", h.handleGetPosition)
	mux.HandleFunc("GET /v1/markets", h.handleListMarkets)
	mux.HandleFunc("GET /v1/markets/{symbol}", h.handleGetMarket)
	mux.HandleFunc("GET /v1/markets/{symbol}/book", h.handleGetBook)
	mux.HandleFunc("GET /v1/markets/{symbol}/trades", h.handleRecentTrades)
	if h.stream != nil {
		mux.Handle("GET /v1/stream", h.stream)
	}
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.info)
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body carbonsdk.CreateOrderRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondBadRequest(w, err)
		return
	}

	req := inbound.CreateOrderRequest{
		Symbol:        strings.TrimSpace(body.Symbol),
		ClientOrderID: strings.TrimSpace(body.ClientOrderID),
	}
	var err error
	if req.Trader, err = parseAddress(body.Trader); err != nil {
		h.respondBadRequest(w, err)
		return
	}
	if err := decodeFields(
		field{"encQuantity", body.EncQuantity, &req.EncQuantity},
		field{"encPrice", body.EncPrice, &req.EncPrice},
		field{"encOrderType", body.EncOrderType, &req.EncSide},
		field{"proof", body.Proof, &req.Proof},
	); err != nil {
		h.respondBadRequest(w, err)
		return
	}

	res, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	c, _ := h.catalog.Get(req.Symbol)
	h.respond(w, http.StatusCreated, carbonsdk.CreateOrderResponse{
		OrderID: res.OrderID,
		Status:  string(res.Status),
		Trades:  toTrades(res.Trades, c),
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := hexutil.ParseUint64(r.PathValue("id"))
	if err != nil {
		h.respondBadRequest(w, fmt.Errorf("invalid order id: %w", err))
		return
	}
	proof, err := hexutil.DecodeBytes(r.Header.Get(ViewProofHeader))
	if err != nil {
		h.respondBadRequest(w, fmt.Errorf("%s: %w", ViewProofHeader, err))
		return
	}

	info, err := h.service.GetOrderInfo(r.Context(), id, proof)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toOrder(info))
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := hexutil.ParseUint64(r.PathValue("id"))
	if err != nil {
		h.respondBadRequest(w, fmt.Errorf("invalid order id: %w", err))
		return
	}
	var body carbonsdk.CancelOrderRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondBadRequest(w, err)
		return
	}

	req := inbound.CancelOrderRequest{OrderID: id}
	if req.Trader, err = parseAddress(body.Trader); err != nil {
		h.respondBadRequest(w, err)
		return
	}
	if err := decodeFields(field{"proof", body.Proof, &req.Proof}); err != nil {
		h.respondBadRequest(w, err)
		return
	}

	if err := h.service.CancelOrder(r.Context(), req); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMatchOrders(w http.ResponseWriter, r *http.Request) {
	var body carbonsdk.MatchOrdersRequest
	if err := decodeBody(r, &body); err != nil {
		h.respondBadRequest(w, err)
		return
	}

	req := inbound.MatchOrdersRequest{BuyOrderID: body.BuyOrderID, SellOrderID: body.SellOrderID}
	if err := decodeFields(
		field{"encQuantity", body.EncQuantity, &req.EncQuantity},
		field{"proof", body.Proof, &req.Proof},
	); err != nil {
		h.respondBadRequest(w, err)
		return
	}

	trade, err := h.service.MatchOrders(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	c, _ := h.catalog.Get(trade.Symbol)
	h.respond(w, http.StatusCreated, toTrade(trade, c))
}

func (h *Handler) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	trader, err := parseAddress(r.PathValue("trader"))
	if err != nil {
		h.respondBadRequest(w, err)
		return
	}
	proof, err := hexutil.DecodeBytes(r.Header.Get(ViewProofHeader))
	if err != nil {
		h.respondBadRequest(w, fmt.Errorf("%s: %w", ViewProofHeader, err))
		return
	}

	info, err := h.service.GetPositionInfo(r.Context(), trader, r.PathValue("symbol"), proof)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toPosition(info))
}

func (h *Handler) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.service.ListMarkets(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]carbonsdk.Market, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarket(m))
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetMarketData(r.Context(), r.PathValue("symbol"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toMarket(m))
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	depth, err := h.service.GetOrderBook(r.Context(), symbol)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	c, _ := h.catalog.Get(symbol)
	h.respond(w, http.StatusOK, toBook(depth, c))
}

func (h *Handler) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondBadRequest(w, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	trades, err := h.service.RecentTrades(r.Context(), symbol, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	c, _ := h.catalog.Get(symbol)
	h.respond(w, http.StatusOK, toTrades(trades, c))
}

type field struct {
	name string
	hex  string
	dst  *[]byte
}

func decodeFields(fields ...field) error {
	for _, f := range fields {
		b, err := hexutil.DecodeBytes(f.hex)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = b
	}
	return nil
}

// parseAddress returns the zero address for an empty string so the service
// reports a missing wallet rather than a decode error.
func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid trader address %q", s)
	}
	return common.HexToAddress(s), nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any) {
	respondJSON(h.logger, w, status, data)
}

func (h *Handler) respondBadRequest(w http.ResponseWriter, err error) {
	h.respond(w, http.StatusBadRequest, carbonsdk.ErrorResponse{Error: err.Error(), Code: "bad_request"})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	h.respond(w, status, carbonsdk.ErrorResponse{Error: msg, Code: code})
}
