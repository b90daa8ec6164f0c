package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewToken собирает токен владельца вида
// {operation}:{subjectId}:{timestamp}:{payloadHash}:{nonce}.
// Nonce делает токен уникальным даже для одинаковых запросов в одну миллисекунду.
func NewToken(operation string, subjectID int64, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%s:%d:%d:%s:%s",
		operation,
		subjectID,
		time.Now().UnixMilli(),
		hex.EncodeToString(sum[:4]),
		uuid.NewString(),
	)
}
