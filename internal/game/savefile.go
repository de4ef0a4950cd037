package game

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrChecksumMismatch is returned when a save file was altered or truncated.
var ErrChecksumMismatch = errors.New("save checksum mismatch")

const envelopeVersion = 1

type saveEnvelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Save     json.RawMessage `json:"save"`
}

// SaveChecksum computes the blake2b-256 checksum of the compact JSON encoding
// of save.
func SaveChecksum(save *SaveGame) (string, error) {
	payload, err := json.Marshal(save)
	if err != nil {
		return "", fmt.Errorf("encode save: %w", err)
	}
	return checksum(payload), nil
}

func checksum(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// EncodeSave wraps save in a checksummed envelope.
func EncodeSave(save *SaveGame) ([]byte, error) {
	if save == nil {
		return nil, errors.New("encode save: nil save")
	}
	payload, err := json.Marshal(save)
	if err != nil {
		return nil, fmt.Errorf("encode save: %w", err)
	}
	data, err := json.MarshalIndent(saveEnvelope{
		Version:  envelopeVersion,
		Checksum: checksum(payload),
		Save:     payload,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeSave verifies and unwraps an envelope produced by EncodeSave.
func DecodeSave(data []byte) (*SaveGame, error) {
	var env saveEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("decode envelope: unsupported version %d", env.Version)
	}
	if len(env.Save) == 0 {
		return nil, errors.New("decode envelope: missing save")
	}

	// Indentation of the envelope leaks into the raw payload.
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Save); err != nil {
		return nil, fmt.Errorf("decode save: %w", err)
	}
	if got := checksum(compact.Bytes()); got != env.Checksum {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, env.Checksum)
	}

	var save SaveGame
	if err := json.Unmarshal(compact.Bytes(), &save); err != nil {
		return nil, fmt.Errorf("decode save: %w", err)
	}
	return &save, nil
}
