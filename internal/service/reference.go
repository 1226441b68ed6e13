package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const referencePrefix = "ORDER"

// NewReference builds a payment reference for an order. The order id is
// recoverable from the string alone; that is the fallback binding
// mechanism when a Payment row does not yet exist.
func NewReference(orderID int64) string {
	return fmt.Sprintf("%s-%d-%d-%s",
		referencePrefix, orderID, time.Now().Unix(), uuid.New().String()[:8])
}

// ParseReference recovers the order id from a reference's structured prefix
func ParseReference(reference string) (int64, error) {
	parts := strings.Split(reference, "-")
	if len(parts) < 4 || parts[0] != referencePrefix {
		return 0, fmt.Errorf("malformed payment reference: %q", reference)
	}

	orderID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || orderID <= 0 {
		return 0, fmt.Errorf("malformed order id in reference: %q", reference)
	}
	return orderID, nil
}
