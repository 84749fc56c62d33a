package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ohlcv-server/internal/apperror"
	"ohlcv-server/internal/collect"
	"ohlcv-server/internal/market"
	"ohlcv-server/internal/ohlcv"
	"ohlcv-server/internal/timeframe"
)

type handler struct {
	markets   *market.Registry
	cache     *ohlcv.Cache
	collector *collect.Registry
}

type marketSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type barsResponse struct {
	Market   string      `json:"market"`
	Asset    string      `json:"asset"`
	Interval string      `json:"interval"`
	Bars     []ohlcv.Bar `json:"bars"`
}

type collectRequest struct {
	Market   string `json:"market"`
	Asset    string `json:"asset"`
	Interval string `json:"interval"`
	Since    int64  `json:"since"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listMarkets(w http.ResponseWriter, _ *http.Request) {
	all := h.markets.List()
	out := make([]marketSummary, 0, len(all))
	for _, m := range all {
		out = append(out, marketSummary{ID: m.ID(), Name: m.Name(), Type: m.Type()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listAssets(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	assets := m.Assets()
	q := r.URL.Query()

	start := 0
	if v := q.Get("start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "start must be a non-negative integer")
			return
		}
		start = n
	}
	if start > len(assets) {
		start = len(assets)
	}
	assets = assets[start:]

	if v := q.Get("max_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "max_count must be a non-negative integer")
			return
		}
		if n < len(assets) {
			assets = assets[:n]
		}
	}

	writeJSON(w, http.StatusOK, assets)
}

func (h *handler) getBars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := ohlcv.GetBarsRequest{
		Market:   q.Get("market"),
		Asset:    strings.ToLower(q.Get("asset")),
		Interval: q.Get("interval"),
		Since:    -1,
		Limit:    ohlcv.DefaultLimit,
	}

	if v := q.Get("since"); v != "" {
		since, err := strconv.ParseInt(v, 10, 64)
		if err != nil || since < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative unix timestamp")
			return
		}
		req.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		req.Limit = limit
	}

	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	m, err := h.markets.Get(req.Market)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !m.HasAsset(req.Asset) {
		writeError(w, http.StatusNotFound, "unknown asset: "+req.Asset)
		return
	}

	tf, err := timeframe.Parse(req.Interval)
	if err != nil {
		writeAppError(w, err)
		return
	}

	fetcher := ohlcv.NewFetcher(m.ID(), req.Asset, m, h.cache)
	bars, err := fetcher.Fetch(r.Context(), tf, req.Since, req.Limit)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if q.Get("format") == "csv" {
		writeCSV(w, bars)
		return
	}

	writeJSON(w, http.StatusOK, barsResponse{
		Market:   m.ID(),
		Asset:    req.Asset,
		Interval: tf.String(),
		Bars:     bars,
	})
}

func (h *handler) startCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Asset = strings.ToLower(req.Asset)

	if req.Market == "" || req.Asset == "" || req.Interval == "" {
		writeError(w, http.StatusBadRequest, "market, asset and interval are required")
		return
	}
	if req.Since < 0 {
		writeError(w, http.StatusBadRequest, "since must be a non-negative unix timestamp")
		return
	}

	m, err := h.markets.Get(req.Market)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !m.HasAsset(req.Asset) {
		writeError(w, http.StatusNotFound, "unknown asset: "+req.Asset)
		return
	}

	tf, err := timeframe.Parse(req.Interval)
	if err != nil {
		writeAppError(w, err)
		return
	}

	key := collect.Key{MarketID: m.ID(), Asset: req.Asset, Interval: tf.String()}
	res, err := h.collector.Start(r.Context(), m, key, tf, req.Since)
	if err != nil {
		writeAppError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Status != collect.StatusStarted {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *handler) listCollect(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

func writeAppError(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
