package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
)

// Minimal fake decoder for local development. Run with:
//
//	go run test_decoder_server.go
//
// and point decoder.endpoint at http://localhost:8091/decode.

type decodeResponse struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	recognizerID := r.FormValue("recognizer_id")
	final, _ := strconv.ParseBool(r.FormValue("final"))

	var audioBytes int
	if file, _, err := r.FormFile("file"); err == nil {
		data, _ := io.ReadAll(file)
		file.Close()
		audioBytes = len(data)
	}

	log.Printf("decode request: recognizer=%s final=%t audio_bytes=%d", recognizerID, final, audioBytes)

	resp := decodeResponse{
		Text:  fmt.Sprintf("fake transcript for %d bytes of audio", audioBytes),
		Final: final,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func main() {
	http.HandleFunc("/decode", decodeHandler)

	addr := ":8091"
	log.Printf("fake decoder listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
