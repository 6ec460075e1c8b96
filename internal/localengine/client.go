// Package localengine is an engine that keeps every account of a data
// directory on this host. Accounts live in a shared SQLite directory, each
// user's messages in a SQLite mailbox, and messages travel between users
// through spool directories.
package localengine

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/ashureev/sealbox/internal/domain"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/store"
)

// DefaultMaxAttachmentSize caps the attachments of one draft.
const DefaultMaxAttachmentSize int64 = 25 << 20

const (
	masterKeySize   = 32
	saltSize        = 16
	argonTime       = 1
	argonMemory     = 64 * 1024
	argonThreads    = 4
	argonKeyLength  = 32
	defaultDebounce = 100 * time.Millisecond
)

var (
	addressPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s.]+$`)
	blockPattern   = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
)

// Options configures a Client.
type Options struct {
	// DataDir holds the account directory and the spools.
	DataDir string
	// MaxAttachmentSize caps the attachments of one draft. Zero means
	// DefaultMaxAttachmentSize.
	MaxAttachmentSize int64
	// SpoolDebounce groups spool arrivals into one push notification.
	SpoolDebounce time.Duration
	Logger        *slog.Logger
}

// Client implements engine.Client for accounts on this host.
type Client struct {
	dataDir           string
	directory         store.Directory
	maxAttachmentSize int64
	debounce          time.Duration
	logger            *slog.Logger
}

var _ engine.Client = (*Client)(nil)

// New opens the account directory under opts.DataDir.
func New(opts Options) (*Client, error) {
	if opts.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttachmentSize <= 0 {
		opts.MaxAttachmentSize = DefaultMaxAttachmentSize
	}
	if opts.SpoolDebounce <= 0 {
		opts.SpoolDebounce = defaultDebounce
	}

	directory, err := store.OpenDirectory(filepath.Join(opts.DataDir, "directory.db"))
	if err != nil {
		return nil, fmt.Errorf("open account directory: %w", err)
	}

	return &Client{
		dataDir:           opts.DataDir,
		directory:         directory,
		maxAttachmentSize: opts.MaxAttachmentSize,
		debounce:          opts.SpoolDebounce,
		logger:            logger,
	}, nil
}

// Close closes the account directory. Sessions must be closed first.
func (c *Client) Close() error {
	return c.directory.Close()
}

// ValidateAddress reports whether address looks like user@domain.tld.
func (c *Client) ValidateAddress(address string) bool {
	return addressPattern.MatchString(strings.TrimSpace(address))
}

// ValidateMasterKeyBlock reports whether block is four hex digits.
func (c *Client) ValidateMasterKeyBlock(block string) bool {
	return blockPattern.MatchString(block)
}

// GenerateKeys draws a new random master key.
func (c *Client) GenerateKeys(ctx context.Context) (domain.MasterKey, error) {
	var key domain.MasterKey
	if err := ctx.Err(); err != nil {
		return key, err
	}
	raw := make([]byte, masterKeySize)
	if _, err := rand.Read(raw); err != nil {
		return key, &engine.LocalError{Kind: engine.LocalUnknown, Err: fmt.Errorf("read random: %w", err)}
	}
	encoded := strings.ToUpper(hex.EncodeToString(raw))
	size := len(encoded) / domain.MasterKeyBlocks
	for i := range key {
		key[i] = encoded[i*size : (i+1)*size]
	}
	return key, nil
}

func (c *Client) verifier(key domain.MasterKey, salt []byte) ([]byte, error) {
	raw, err := key.Bytes()
	if err != nil {
		return nil, err
	}
	return argon2.IDKey(raw, salt, argonTime, argonMemory, argonThreads, argonKeyLength), nil
}

func (c *Client) validate(address string, key domain.MasterKey) error {
	if !c.ValidateAddress(address) {
		return &engine.NetworkError{Kind: engine.NetworkProtocol, Err: fmt.Errorf("invalid address %q", address)}
	}
	for _, b := range key {
		if !c.ValidateMasterKeyBlock(b) {
			return &engine.NetworkError{Kind: engine.NetworkProtocol, Err: errors.New("malformed master key")}
		}
	}
	return nil
}

// RegisterAccount creates an account. A taken address is refused with a
// forbidden network error.
func (c *Client) RegisterAccount(ctx context.Context, reg domain.Registration) error {
	if err := c.validate(reg.Address, reg.MasterKey); err != nil {
		return err
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return &engine.LocalError{Kind: engine.LocalUnknown, Err: fmt.Errorf("read random: %w", err)}
	}
	verifier, err := c.verifier(reg.MasterKey, salt)
	if err != nil {
		return &engine.NetworkError{Kind: engine.NetworkProtocol, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = c.directory.CreateAccount(ctx, &store.Account{
		Address:      reg.Address,
		Name:         reg.Name,
		Organization: reg.Organization,
		Salt:         salt,
		Verifier:     verifier,
		CreatedAt:    time.Now(),
	})
	if errors.Is(err, store.ErrExists) {
		return &engine.NetworkError{Kind: engine.NetworkForbidden, Err: fmt.Errorf("address %s is taken", reg.Address)}
	}
	if err != nil {
		return directoryError(ctx, err)
	}
	c.logger.Info("[ENGINE] Account registered", "address", reg.Address)
	return nil
}

// CheckCredentials verifies the master key of an account.
func (c *Client) CheckCredentials(ctx context.Context, creds domain.Credentials) error {
	_, err := c.authenticate(ctx, creds)
	return err
}

func (c *Client) authenticate(ctx context.Context, creds domain.Credentials) (*store.Account, error) {
	if err := c.validate(creds.Address, creds.MasterKey); err != nil {
		return nil, err
	}
	acct, err := c.directory.GetAccount(ctx, creds.Address)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &engine.NetworkError{Kind: engine.NetworkUnauthorized, Err: errors.New("unknown account")}
	}
	if err != nil {
		return nil, directoryError(ctx, err)
	}
	verifier, err := c.verifier(creds.MasterKey, acct.Salt)
	if err != nil {
		return nil, &engine.NetworkError{Kind: engine.NetworkProtocol, Err: err}
	}
	if subtle.ConstantTimeCompare(verifier, acct.Verifier) != 1 {
		return nil, &engine.NetworkError{Kind: engine.NetworkUnauthorized, Err: errors.New("wrong master key")}
	}
	return acct, nil
}

// AddressExists reports whether an account uses address.
func (c *Client) AddressExists(ctx context.Context, address string) (bool, error) {
	_, err := c.directory.GetAccount(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, directoryError(ctx, err)
	}
	return true, nil
}

// CreateSession authenticates creds and opens the mailbox at storePath.
func (c *Client) CreateSession(ctx context.Context, creds domain.Credentials, storePath string, listener engine.Listener) (engine.Session, error) {
	acct, err := c.authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailbox, err := store.OpenMailbox(storePath)
	if err != nil {
		return nil, &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
	}

	s, err := newSession(ctx, c, acct, mailbox, listener)
	if err != nil {
		mailbox.Close()
		return nil, err
	}
	c.logger.Info("[ENGINE] Session opened", "address", acct.Address)
	return s, nil
}

// directoryError maps an account directory failure to a server error,
// keeping cancellation visible.
func directoryError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &engine.NetworkError{Kind: engine.NetworkServer, Err: err}
}

// mailboxError maps a mailbox failure to a local filesystem error.
func mailboxError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var localErr *engine.LocalError
	if errors.As(err, &localErr) {
		return err
	}
	return &engine.LocalError{Kind: engine.LocalFilesystem, Err: err}
}
