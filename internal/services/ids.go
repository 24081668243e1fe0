package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// newOrderNumber returns a human readable order number, e.g. FS-20260301-9F86D081
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("FS-%s-%s", now.UTC().Format("20060102"), suffix)
}

func userActor(userID string) string {
	return "user:" + userID
}

const (
	actorSystem  = "system"
	actorPayment = "payment"
	actorAdmin   = "admin"
)
