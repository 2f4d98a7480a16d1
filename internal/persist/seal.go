package persist

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const (
	descriptorEmbeds    = "webbox:store:embeds"
	descriptorDocuments = "webbox:store:documents"
)

// sealer encrypts stored records with data keys derived from the root key
// in a kryptograf key store.
type sealer struct {
	storePath string
	log       pslog.Logger
}

func newSealer(storePath string, logger pslog.Logger) (*sealer, error) {
	if strings.TrimSpace(storePath) == "" {
		return nil, fmt.Errorf("key store path is required when sealing")
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, err
	}
	store, err := keymgmt.LoadProto(storePath)
	if err != nil {
		return nil, err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		return nil, err
	}
	if err := store.Commit(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("store key store ensure ok", "path", storePath)
	}
	return &sealer{storePath: storePath, log: logger}, nil
}

func (s *sealer) material(descriptor string) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(s.storePath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	material, err := store.EnsureDescriptor(descriptor, root, []byte(descriptor))
	if err != nil {
		if s.log != nil {
			s.log.Warn("store key material ensure failed", "descriptor", descriptor, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (s *sealer) seal(w io.Writer, descriptor string) (io.WriteCloser, error) {
	material, root, err := s.material(descriptor)
	if err != nil {
		return nil, err
	}
	return kryptograf.New(root).EncryptWriter(w, material)
}

func (s *sealer) open(r io.Reader, descriptor string) (io.ReadCloser, error) {
	material, root, err := s.material(descriptor)
	if err != nil {
		return nil, err
	}
	return kryptograf.New(root).DecryptReader(r, material)
}
