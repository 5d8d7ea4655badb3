package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// webhookWindow is how long a signed notice stays valid.
const webhookWindow = 300 * time.Second

// PullScheduler enqueues a refresh task for one provider entity.
type PullScheduler interface {
	Enqueue(typ, uuid string) error
}

// WebhookHandler receives cache-invalidation notices from the identity
// provider. The provider signs each notice with a shared HMAC secret;
// anything unsigned, mis-signed or stale is rejected without side
// effects.
type WebhookHandler struct {
	secret    string
	scheduler PullScheduler
	now       func() time.Time
}

func NewWebhookHandler(secret string, scheduler PullScheduler) *WebhookHandler {
	return &WebhookHandler{secret: secret, scheduler: scheduler, now: time.Now}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	typ := r.PostForm.Get("type")
	uuids := r.PostForm["uuids"]
	timestamp := r.PostForm.Get("timestamp")
	signature := r.PostForm.Get("signature")

	if !h.verify(typ, uuids, timestamp, signature) {
		log.Warn().Str("type", typ).Msg("rejected webhook notice")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	for _, uuid := range uuids {
		if err := h.scheduler.Enqueue(typ, uuid); err != nil {
			log.Error().Err(err).Str("type", typ).Str("uuid", uuid).Msg("failed to enqueue pull task")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// verify checks the notice signature and freshness. The signed message
// is timestamp, then type, then every uuid concatenated in order.
func (h *WebhookHandler) verify(typ string, uuids []string, timestamp, signature string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(timestamp + typ + strings.Join(uuids, "")))
	expected := hex.EncodeToString(mac.Sum(nil))

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(sig, want) {
		return false
	}

	return time.Unix(ts, 0).Add(webhookWindow).After(h.now())
}
