// Package jsonfile keeps settings records in a single JSON document.
// Every write rewrites the whole file through a temporary file and a rename,
// so each Save and Delete is atomic.
package jsonfile

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

type document struct {
	Records map[string]string `json:"records"`
}

type settingsFile struct {
	filename string
	lock     sync.RWMutex
}

// New returns Settings stored in filename. The file is created on first write.
func New(filename string) fpstorage.Settings {
	return &settingsFile{filename: filename}
}

func (sf *settingsFile) Load(prefix string, fn func(name string, value []byte) error) error {
	sf.lock.RLock()
	doc, err := sf.loadExisting()
	sf.lock.RUnlock()
	if err != nil {
		return &fpstorage.StorageError{Op: "load", Name: prefix, Err: err}
	}

	names := make([]string, 0, len(doc.Records))
	for name := range doc.Records {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		v, err := hex.DecodeString(doc.Records[name])
		if err != nil {
			return &fpstorage.CorruptError{Name: name, Reason: "value is not hex: " + err.Error()}
		}
		if err := fn(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (sf *settingsFile) Save(name string, value []byte) error {
	sf.lock.Lock()
	defer sf.lock.Unlock()

	err := sf.update(func(doc *document) {
		doc.Records[name] = hex.EncodeToString(value)
	})
	if err != nil {
		return &fpstorage.StorageError{Op: "save", Name: name, Err: err}
	}
	return nil
}

func (sf *settingsFile) Delete(name string) error {
	sf.lock.Lock()
	defer sf.lock.Unlock()

	err := sf.update(func(doc *document) {
		delete(doc.Records, name)
	})
	if err != nil {
		return &fpstorage.StorageError{Op: "delete", Name: name, Err: err}
	}
	return nil
}

func (sf *settingsFile) update(fn func(doc *document)) error {
	doc, err := sf.loadExisting()
	if err != nil {
		return err
	}
	fn(doc)
	return sf.store(doc)
}

func (sf *settingsFile) loadExisting() (*document, error) {
	doc := &document{Records: map[string]string{}}

	in, err := ioutil.ReadFile(sf.filename)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read settings file")
	}
	if len(in) == 0 {
		return doc, nil
	}

	if err := jsoniter.Unmarshal(in, doc); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal settings file")
	}
	if doc.Records == nil {
		doc.Records = map[string]string{}
	}
	return doc, nil
}

func (sf *settingsFile) store(doc *document) error {
	out, err := jsoniter.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}

	tmp, err := ioutil.TempFile(filepath.Dir(sf.filename), filepath.Base(sf.filename)+".tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary settings file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to write settings")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to sync settings")
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), sf.filename)
}
