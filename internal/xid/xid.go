package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered id such as "sale-0190f3c2-...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + id.String()
}
