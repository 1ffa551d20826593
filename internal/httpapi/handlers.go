package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/impostor-lol/internal/hub"
)

// GenerateCode returns a six character session code.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type sessionResponse struct {
	Code  string `json:"code"`
	Topic string `json:"topic"`
}

// CreateSession allocates a session code whose topic nobody is using yet.
// The topic itself opens when the first client subscribes.
func CreateSession(h *hub.Hub, prefix string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for attempt := 0; attempt < 8; attempt++ {
			code, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			topic := prefix + "/" + code

			t, err := h.Get(r.Context(), topic)
			if err != nil {
				http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
				return
			}
			if t != nil {
				log.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			}

			writeJSON(w, http.StatusCreated, sessionResponse{Code: code, Topic: topic})
			return
		}
		http.Error(w, "failed to allocate code", http.StatusInternalServerError)
	}
}

func ListTopics(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topics, err := h.List(r.Context())
		if err != nil {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, topics)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
