package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text       string `json:"text,omitempty"`
			InlineData *struct {
				MimeType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData,omitempty"`
		} `json:"parts"`
	} `json:"contents"`
}

var (
	rateLimitEvery = flag.Int("rate-limit-every", 0, "Return 429 for every Nth request (0 disables)")
	requestCount   atomic.Uint64
)

const fakeLyrics = `[00:01.2] Hello from the test transcription server
[00:05.8] Every request gets these same lyrics back
[00:10.1] Point your config at localhost to use it`

func generateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := requestCount.Add(1)

	if *rateLimitEvery > 0 && count%uint64(*rateLimitEvery) == 0 {
		log.Printf("⏳ RATE LIMIT SIMULATED (request #%d)", count)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"code":    429,
				"message": "Resource has been exhausted (e.g. check quota).",
				"status":  "RESOURCE_EXHAUSTED",
			},
		})
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request body", http.StatusBadRequest)
		return
	}

	// Pull model name and audio payload details out of the request
	model := r.URL.Path
	if idx := strings.Index(model, "/models/"); idx >= 0 {
		model = strings.TrimSuffix(model[idx+len("/models/"):], ":generateContent")
	}

	var mimeType string
	var audioBytes int
	for _, content := range req.Contents {
		for _, part := range content.Parts {
			if part.InlineData != nil {
				mimeType = part.InlineData.MimeType
				if data, err := base64.StdEncoding.DecodeString(part.InlineData.Data); err == nil {
					audioBytes = len(data)
				}
			}
		}
	}

	log.Printf("🎤 TRANSCRIPTION REQUEST RECEIVED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  📊 Request Info:")
	log.Printf("    Request #: %d", count)
	log.Printf("    Model: %s", model)
	log.Printf("    API Key present: %t", r.URL.Query().Get("key") != "")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("  🎧 Audio Info:")
	log.Printf("    MIME Type: %s", mimeType)
	log.Printf("    Audio Size: %d bytes", audioBytes)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": fakeLyrics}},
					"role":  "model",
				},
				"finishReason": "STOP",
			},
		},
	})

	log.Printf("✅ TRANSCRIPTION RESPONSE SENT (%d lyric lines)", strings.Count(fakeLyrics, "\n")+1)
	log.Println("---")
}

func main() {
	flag.Parse()

	http.HandleFunc("/v1beta/models/", generateHandler)

	port := ":9000"
	log.Printf("🚀 Test Transcription Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/v1beta/models/<model>:generateContent", port)
	log.Println("💡 Update your config to use: endpoint: http://localhost:9000")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
