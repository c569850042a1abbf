package domain

import "time"

const (
	// Nickname constraints (applied to the normalized form)
	MIN_NICKNAME_LENGTH = 3
	MAX_NICKNAME_LENGTH = 30

	// Parent domain constants
	DEFAULT_PARENT_DOMAIN = "villa.eth"

	// Gateway signature constants
	MAX_ENVELOPE_TTL = 10 * time.Minute

	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"
)
