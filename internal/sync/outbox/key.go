package outbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
)

const keyDomain = "outbox/v1"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON encodes v with object keys sorted at every depth so equal
// documents always produce equal bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// IdempotencyKey derives the dedupe key for a logical change. The same
// event type, entity and payload always give the same key.
func IdempotencyKey(eventType types.EventType, entity types.EntityType, entityID string, payload any) (string, error) {
	doc, err := CanonicalJSON(map[string]any{
		"event_type":  eventType,
		"entity_type": entity,
		"entity_id":   entityID,
		"payload":     payload,
	})
	if err != nil {
		return "", fmt.Errorf("outbox: canonicalize payload: %w", err)
	}
	return hashWithDomain(keyDomain, doc), nil
}

// ReplayKey namespaces a replayed event by its dead letter, the replay
// sequence number and the replay time so it never collides with the failed
// original or an earlier replay.
func ReplayKey(deadLetterID int64, seq int, at time.Time) string {
	return "replay:" + strconv.FormatInt(deadLetterID, 10) + ":" + strconv.Itoa(seq) + ":" + strconv.FormatInt(at.UnixNano(), 10)
}
