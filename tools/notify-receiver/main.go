// Command notify-receiver is a development sink for webhook notifications.
// It verifies signatures when NOTIFY_WEBHOOK_SECRET is set and keeps the most
// recent deliveries for inspection at /stats.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/logging"
	"github.com/ibra15-cyber/todo-backend/internal/notifier"
)

const maxStored = 50

type delivery struct {
	ReceivedAt   string              `json:"received_at"`
	Signed       bool                `json:"signed"`
	Notification domain.Notification `json:"notification"`
}

type stats struct {
	Count      int64      `json:"count"`
	Rejected   int64      `json:"rejected"`
	Duplicates int64      `json:"duplicates"`
	Last       []delivery `json:"last_deliveries"`
	Since      string     `json:"since"`
}

type receiver struct {
	secret string

	mu         sync.Mutex
	count      int64
	rejected   int64
	duplicates int64
	seen       map[string]struct{}
	last       []delivery
	since      time.Time
}

func newReceiver(secret string) *receiver {
	r := &receiver{secret: secret}
	r.reset()
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count, rc.rejected, rc.duplicates = 0, 0, 0
	rc.seen = make(map[string]struct{})
	rc.last = nil
	rc.since = time.Now().UTC()
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	defer r.Body.Close()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if rc.secret != "" && !notifier.VerifySignature(rc.secret, body, r.Header.Get(notifier.HeaderSignature)) {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		log.Warn().Str("component", "receiver").Msg("receiver: bad signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var n domain.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Senders retry, so the same notification ID may arrive more than once.
	id := r.Header.Get(notifier.HeaderNotificationID)
	if id == "" {
		id = n.ID.String()
	}

	rc.mu.Lock()
	if _, dup := rc.seen[id]; dup {
		rc.duplicates++
		rc.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"duplicate":true}`)
		return
	}
	rc.seen[id] = struct{}{}
	rc.count++
	rc.last = append(rc.last, delivery{
		ReceivedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Signed:       rc.secret != "",
		Notification: n,
	})
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Info().
		Str("component", "receiver").
		Int64("n", current).
		Str("owner_id", n.OwnerID).
		Str("kind", string(n.Kind)).
		Str("subject", n.Subject).
		Msg("receiver: notification received")

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:      rc.count,
		Rejected:   rc.rejected,
		Duplicates: rc.duplicates,
		Last:       append([]delivery(nil), rc.last...),
		Since:      rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func main() {
	logging.Setup(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console"})

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rc := newReceiver(os.Getenv("NOTIFY_WEBHOOK_SECRET"))

	log.Info().Str("component", "receiver").Str("addr", addr).Bool("verify", rc.secret != "").Msg("receiver: listening")
	if err := http.ListenAndServe(addr, rc.routes()); err != nil {
		log.Fatal().Err(err).Str("component", "receiver").Msg("receiver: server error")
	}
}
