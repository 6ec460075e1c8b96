package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MasterKeyBlocks is the number of blocks a master key is written down as.
const MasterKeyBlocks = 16

// MasterKey is the user's symmetric master key, split into blocks so that it
// can be transcribed by hand.
type MasterKey [MasterKeyBlocks]string

// ParseMasterKey splits s into blocks. Blocks may be separated by dashes or
// whitespace, or given as one run of characters.
func ParseMasterKey(s string) (MasterKey, error) {
	var key MasterKey
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 1 {
		joined := fields[0]
		if len(joined)%MasterKeyBlocks != 0 {
			return key, fmt.Errorf("master key length %d is not a multiple of %d", len(joined), MasterKeyBlocks)
		}
		size := len(joined) / MasterKeyBlocks
		fields = make([]string, 0, MasterKeyBlocks)
		for i := 0; i < len(joined); i += size {
			fields = append(fields, joined[i:i+size])
		}
	}
	if len(fields) != MasterKeyBlocks {
		return key, fmt.Errorf("master key has %d blocks, want %d", len(fields), MasterKeyBlocks)
	}
	for i, f := range fields {
		key[i] = strings.ToUpper(f)
	}
	return key, nil
}

// String joins the blocks with dashes.
func (k MasterKey) String() string {
	return strings.Join(k[:], "-")
}

// IsZero returns true if no block is set.
func (k MasterKey) IsZero() bool {
	for _, b := range k {
		if b != "" {
			return false
		}
	}
	return true
}

// Bytes decodes the hex blocks into the raw key.
func (k MasterKey) Bytes() ([]byte, error) {
	raw, err := hex.DecodeString(strings.Join(k[:], ""))
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return raw, nil
}

// Credentials identify and authenticate one account.
type Credentials struct {
	Address   string
	MasterKey MasterKey
}

// Registration is the information sent when creating a new account.
type Registration struct {
	Address      string
	Name         string
	Organization string
	MasterKey    MasterKey
}

// Credentials returns the credentials the registered account signs in with.
func (r Registration) Credentials() Credentials {
	return Credentials{Address: r.Address, MasterKey: r.MasterKey}
}
