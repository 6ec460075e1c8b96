// Package credential persists the address and master key of each account
// signed in on this device, and remembers which one was used last.
package credential

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/ashureev/sealbox/internal/domain"
)

// ErrNotFound is returned when no credentials are stored for an address, or
// when no account is current.
var ErrNotFound = errors.New("credentials not found")

// Store keeps credentials per address.
type Store interface {
	// Save stores creds and makes their address the current one.
	Save(creds domain.Credentials) error
	// Load returns the credentials stored for address.
	Load(address string) (domain.Credentials, error)
	// Current returns the credentials of the last saved address.
	Current() (domain.Credentials, error)
	// Delete removes the credentials for address. If address is current,
	// no account is current afterwards. Deleting a missing address is not an error.
	Delete(address string) error
}

// Digest returns a stable file-system safe name for address.
func Digest(address string) string {
	sum := blake3.Sum256([]byte(normalize(address)))
	return hex.EncodeToString(sum[:16])
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
