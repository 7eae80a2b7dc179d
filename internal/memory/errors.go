package memory

import "errors"

var (
	// ErrUnavailable marks a store that could not be reached or timed out.
	// Adapters wrap it so callers can tell an outage apart from "no matches".
	ErrUnavailable = errors.New("store unavailable")

	// ErrNoTierAvailable is returned when both tiers failed in the same call.
	ErrNoTierAvailable = errors.New("no memory tier available")

	// ErrInvalidInput is returned for missing user ids, empty queries and similar.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfirmationRequired is returned by ClearAll when confirm is false.
	ErrConfirmationRequired = errors.New("confirmation required to clear memories")
)
