package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultReceiptPrefix = "RCP"

func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Receipt formats a receipt number as <prefix><YYYYMMDD>-<HHMMSS>. A
// collision attempt above 1 appends "-<attempt>".
func Receipt(prefix string, at time.Time, attempt int) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultReceiptPrefix
	}
	base := prefix + at.Format("20060102-150405")
	if attempt <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt)
}
