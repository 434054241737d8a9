package forecast

import (
	"os"
	"path/filepath"

	"github.com/peterbourgon/diskv"
	"github.com/pkg/errors"
)

// Artifact names understood by every store.
const (
	TreeArtifact     = "tree_model"
	SequenceArtifact = "sequence_model"
	HistoryArtifact  = "training_history"
)

// ArtifactStore persists the serialized sub-models. Get of an absent artifact returns an error
// matching ErrArtifactNotFound.
type ArtifactStore interface {
	Put(name string, data []byte) error
	Get(name string) ([]byte, error)
	Has(name string) bool
}

// FileStore keeps each artifact in an explicitly named file. An empty History disables
// persistence of the training history.
type FileStore struct {
	TreeModel     string
	SequenceModel string
	History       string
}

func (store FileStore) location(name string) (string, error) {
	switch name {
	case TreeArtifact:
		return store.TreeModel, nil
	case SequenceArtifact:
		return store.SequenceModel, nil
	case HistoryArtifact:
		return store.History, nil
	}
	return "", errors.Errorf("unknown artifact %q", name)
}

// Put replaces the file through a temporary file in the same directory, so a reader never
// sees a half-written artifact.
func (store FileStore) Put(name string, data []byte) error {
	fileName, err := store.location(name)
	if err != nil {
		return err
	}
	if fileName == "" {
		if name == HistoryArtifact {
			return nil
		}
		return errors.Errorf("no location configured for %q", name)
	}

	dir := filepath.Dir(fileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(fileName)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "writing %s", name)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing %s", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), fileName), "writing %s", name)
}

func (store FileStore) Get(name string) ([]byte, error) {
	fileName, err := store.location(name)
	if err != nil {
		return nil, err
	}
	if fileName == "" {
		return nil, errors.Wrapf(ErrArtifactNotFound, "%s has no location", name)
	}
	data, err := os.ReadFile(fileName)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrArtifactNotFound, "%s at %s", name, fileName)
	}
	return data, errors.Wrapf(err, "reading %s", name)
}

func (store FileStore) Has(name string) bool {
	fileName, err := store.location(name)
	if err != nil || fileName == "" {
		return false
	}
	info, err := os.Stat(fileName)
	return err == nil && !info.IsDir()
}

// DiskvStore keeps artifacts as gzip-compressed keys of a diskv directory.
type DiskvStore struct {
	*diskv.Diskv
}

// NewDiskvStore opens (or lazily creates) a store rooted at directory.
func NewDiskvStore(directory string) DiskvStore {
	return DiskvStore{diskv.New(diskv.Options{
		BasePath:     directory,
		TempDir:      filepath.Join(directory, ".tmp"),
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: 16 * 1024 * 1024,
		Compression:  diskv.NewGzipCompression(),
	})}
}

func (store DiskvStore) Put(name string, data []byte) error {
	return errors.Wrapf(store.Write(name, data), "writing %s", name)
}

func (store DiskvStore) Get(name string) ([]byte, error) {
	if !store.Diskv.Has(name) {
		return nil, errors.Wrapf(ErrArtifactNotFound, "%s in %s", name, store.BasePath)
	}
	data, err := store.Read(name)
	return data, errors.Wrapf(err, "reading %s", name)
}

func (store DiskvStore) Has(name string) bool {
	return store.Diskv.Has(name)
}

// StoreConfig selects and locates an artifact store. Kind is "file" (default) or "diskv".
// File locations left empty default to names inside Directory.
type StoreConfig struct {
	Kind          string `json:"kind"`
	Directory     string `json:"directory"`
	TreeModel     string `json:"tree_model"`
	SequenceModel string `json:"sequence_model"`
	History       string `json:"history"`
}

func (config StoreConfig) Open() (ArtifactStore, error) {
	switch config.Kind {
	case "diskv":
		if config.Directory == "" {
			return nil, errors.New("diskv store needs a directory")
		}
		return NewDiskvStore(config.Directory), nil
	case "", "file":
		store := FileStore{
			TreeModel:     config.TreeModel,
			SequenceModel: config.SequenceModel,
			History:       config.History,
		}
		if store.TreeModel == "" {
			store.TreeModel = filepath.Join(config.Directory, "tree_model.json")
		}
		if store.SequenceModel == "" {
			store.SequenceModel = filepath.Join(config.Directory, "sequence_model.json")
		}
		if store.History == "" {
			store.History = filepath.Join(config.Directory, "training_history.npy")
		}
		return store, nil
	}
	return nil, errors.Errorf("unknown store kind %q", config.Kind)
}
