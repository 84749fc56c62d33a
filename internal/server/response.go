package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ohlcv-server/internal/ohlcv"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

func writeCSV(w http.ResponseWriter, bars []ohlcv.Bar) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=ohlcv.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Timestamp,Date,Open,High,Low,Close,Volume")
	for _, b := range bars {
		_, _ = fmt.Fprintf(w, "%d,%s,%.8f,%.8f,%.8f,%.8f,%.8f\n", //nolint:gosec // CSV output from internal domain types, not user input
			b.Timestamp,
			time.Unix(b.Timestamp, 0).UTC().Format(time.RFC3339),
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.Volume,
		)
	}
}
