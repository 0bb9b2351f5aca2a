package server

import (
	"encoding/json"
	"net/http"

	"github.com/cutekitek/rankode-grader/internal/repository/dto"
)

func responseWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, statusCode int, message, kind string) {
	responseWithJSON(w, statusCode, &dto.ErrorResponse{Error: message, Kind: kind})
}
