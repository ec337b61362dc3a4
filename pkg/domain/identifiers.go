package domain

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered record identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewLotNumber formats a human-readable lot number for t created at now,
// e.g. SD-20250314-091522-a1b2c3.
func NewLotNumber(t LotType, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s-%s-%s-%s", t.Prefix(), now.Format("20060102"), now.Format("150405"), randomHex(3))
}

// NewPlantTag formats a plant tag for a plant tagged at now, e.g.
// PT-20250314-a1b2c3d4.
func NewPlantTag(now time.Time) string {
	return fmt.Sprintf("PT-%s-%s", now.UTC().Format("20060102"), randomHex(4))
}

func randomHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[len(u)-n:])
}
