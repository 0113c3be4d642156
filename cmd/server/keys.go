package main

import (
	"crypto/rsa"

	"github.com/rs/zerolog/log"

	"sipbridge/relay/internal/vonage"
)

// loadPrivateKey returns nil when the key is missing; conversation lookups,
// and with them hangup teardown, stay unavailable until it is provided.
func loadPrivateKey(path string) *rsa.PrivateKey {
	if path == "" {
		log.Warn().Str("module", "main").Msg("VONAGE_PRIVATE_KEY_PATH not set")
		return nil
	}
	key, err := vonage.LoadPrivateKey(path)
	if err != nil {
		log.Error().Str("module", "main").Str("path", path).Err(err).Msg("private key not loaded")
		return nil
	}
	return key
}
