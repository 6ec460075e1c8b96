package localengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/sealbox/internal/credential"
	"github.com/ashureev/sealbox/internal/domain"
)

// envelope is a message in transit between two mailboxes on this host.
type envelope struct {
	ID          string               `json:"id"`
	From        domain.Participant   `json:"from"`
	To          []domain.Participant `json:"to"`
	Text        string               `json:"text"`
	Footer      string               `json:"footer,omitempty"`
	SentAt      time.Time            `json:"sent_at"`
	Attachments []envelopeAttachment `json:"attachments,omitempty"`
}

type envelopeAttachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Blob     string `json:"blob"`
}

// spool is the inbox directory of one address.
type spool struct {
	dir string
}

func spoolFor(dataDir, address string) spool {
	return spool{dir: filepath.Join(dataDir, "spool", credential.Digest(address))}
}

func (s spool) blobDir() string { return filepath.Join(s.dir, "blobs") }

func (s spool) ensure() error {
	return os.MkdirAll(s.blobDir(), 0o700)
}

func newEnvelopeID() string {
	return uuid.NewString()
}

func blobName(envelopeID string, index int) string {
	return fmt.Sprintf("%s-%d", envelopeID, index)
}

// deliver writes env and its attachment bodies into the spool. The
// envelope is renamed into place last so readers never see a partial one.
func (s spool) deliver(env *envelope, bodies [][]byte) error {
	if err := s.ensure(); err != nil {
		return fmt.Errorf("create spool: %w", err)
	}
	for i, body := range bodies {
		if err := os.WriteFile(filepath.Join(s.blobDir(), env.Attachments[i].Blob), body, 0o600); err != nil {
			return fmt.Errorf("write blob: %w", err)
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	final := filepath.Join(s.dir, env.ID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit envelope: %w", err)
	}
	return nil
}

// pending returns the paths of the envelopes waiting in the spool.
func (s spool) pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}
	return paths, nil
}

// readEnvelopes loads the envelopes at paths, oldest first.
func readEnvelopes(paths []string) ([]*envelope, error) {
	envs := make([]*envelope, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read envelope: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode envelope %s: %w", filepath.Base(p), err)
		}
		envs = append(envs, &env)
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].SentAt.Before(envs[j].SentAt) })
	return envs, nil
}

func (s spool) remove(envelopeID string) error {
	err := os.Remove(filepath.Join(s.dir, envelopeID+".json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s spool) readBlob(ref string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.blobDir(), ref))
}

func (s spool) removeBlob(ref string) error {
	err := os.Remove(filepath.Join(s.blobDir(), ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
