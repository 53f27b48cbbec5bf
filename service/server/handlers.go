package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gagliardetto/solana-go"
)

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// handleSession returns the snapshot of the running session, or 404 between sessions.
func handleSession(sessions SessionSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := sessions.Snapshot()
		if !ok {
			writeError(w, "no active monitoring session", http.StatusNotFound)
			return
		}
		logger.DebugContext(r.Context(), "served session snapshot",
			"primary", snap.Primary,
			"workers", len(snap.Workers),
		)
		writeJSON(w, snap, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// validateAddress checks that address is a base58 encoded 32 byte public key.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) < 32 || len(address) > 44 {
		return fmt.Errorf("invalid address length: %d", len(address))
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}
