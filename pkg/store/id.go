package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newUserID(t time.Time) string { return fmt.Sprintf("user_%d", t.UnixMilli()) }

func sensorID(t time.Time) string { return "SNS-" + lastDigits(t, 6) }

func alertID(t time.Time) string { return fmt.Sprintf("alert_%d", t.UnixMilli()) }

// claimID formats CLM<year>-<last 6 digits of the ms timestamp>.
func claimID(t time.Time) string {
	return fmt.Sprintf("CLM%d-%s", t.Year(), lastDigits(t, 6))
}

// chatID keeps the timestamp for ordering and adds a random suffix, since
// chat history is append-only and two messages may land in one millisecond.
func chatID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("chat_%d_%s", t.UnixMilli(), suffix)
}
