package credential

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"

	"github.com/ashureev/sealbox/internal/domain"
)

const (
	identityFile = "identity.key"
	currentFile  = "current.age"
	recordExt    = ".age"
)

// record is the sealed on-disk form of one account's credentials.
type record struct {
	Version   int      `cbor:"1,keyasint"`
	Address   string   `cbor:"2,keyasint"`
	MasterKey []string `cbor:"3,keyasint"`
}

// pointer is the sealed on-disk form of the current address.
type pointer struct {
	Address string `cbor:"1,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credential: CBOR encoder initialization failed: " + err.Error())
	}
}

// FileStore keeps one age-encrypted CBOR record per address in a directory.
// The age identity lives next to the records and is created on first use.
type FileStore struct {
	dir string

	mu       sync.Mutex
	identity *age.X25519Identity
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (creating if needed) the credential directory dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}

	s := &FileStore{dir: dir}
	identity, err := s.loadOrCreateIdentity()
	if err != nil {
		return nil, err
	}
	s.identity = identity
	return s, nil
}

func (s *FileStore) loadOrCreateIdentity() (*age.X25519Identity, error) {
	path := filepath.Join(s.dir, identityFile)

	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parse credential identity: %w", err)
		}
		return identity, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read credential identity: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate credential identity: %w", err)
	}
	if err := writeFileAtomic(path, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write credential identity: %w", err)
	}
	return identity, nil
}

func (s *FileStore) Save(creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{
		Version:   1,
		Address:   creds.Address,
		MasterKey: creds.MasterKey[:],
	}
	if err := s.writeSealed(s.recordPath(creds.Address), rec); err != nil {
		return fmt.Errorf("save credentials for %s: %w", creds.Address, err)
	}
	if err := s.writeSealed(filepath.Join(s.dir, currentFile), pointer{Address: creds.Address}); err != nil {
		return fmt.Errorf("save current account: %w", err)
	}
	return nil
}

func (s *FileStore) Load(address string) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(address)
}

func (s *FileStore) load(address string) (domain.Credentials, error) {
	var rec record
	if err := s.readSealed(s.recordPath(address), &rec); err != nil {
		return domain.Credentials{}, err
	}
	if len(rec.MasterKey) != domain.MasterKeyBlocks {
		return domain.Credentials{}, fmt.Errorf("credentials for %s: master key has %d blocks", address, len(rec.MasterKey))
	}

	creds := domain.Credentials{Address: rec.Address}
	copy(creds.MasterKey[:], rec.MasterKey)
	return creds, nil
}

func (s *FileStore) Current() (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p pointer
	if err := s.readSealed(filepath.Join(s.dir, currentFile), &p); err != nil {
		return domain.Credentials{}, err
	}
	return s.load(p.Address)
}

func (s *FileStore) Delete(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(address)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete credentials for %s: %w", address, err)
	}

	currentPath := filepath.Join(s.dir, currentFile)
	var p pointer
	err := s.readSealed(currentPath, &p)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if normalize(p.Address) != normalize(address) {
		return nil
	}
	if err := os.Remove(currentPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear current account: %w", err)
	}
	return nil
}

func (s *FileStore) recordPath(address string) string {
	return filepath.Join(s.dir, Digest(address)+recordExt)
}

func (s *FileStore) writeSealed(path string, v any) error {
	plaintext, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize encryption: %w", err)
	}

	return writeFileAtomic(path, buf.Bytes(), 0o600)
}

func (s *FileStore) readSealed(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), s.identity)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", filepath.Base(path), err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", filepath.Base(path), err)
	}
	if err := cbor.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the same directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
