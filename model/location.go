package model

import (
	"fmt"
	"strings"
)

// Location is a region code served by exactly one bucket.
type Location string

const (
	LocationWEUR Location = "weur"
	LocationEEUR Location = "eeur"
	LocationWNAM Location = "wnam"
	LocationENAM Location = "enam"
	LocationAPAC Location = "apac"
)

var locations = []Location{LocationWEUR, LocationEEUR, LocationWNAM, LocationENAM, LocationAPAC}

// ParseLocation validates a region code.
func ParseLocation(s string) (Location, error) {
	l := Location(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range locations {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown location %q", s)
}
