// Package bond keeps a host-side list of link-layer bonds in a JSON file.
// It plays the connection stack's part for tools that drive an account key
// store without a radio.
package bond

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/fpstorage"
)

type bondInfo struct {
	Bonds []remoteKeyInfo `json:"bonds"`
}

type remoteKeyInfo struct {
	Address     string `json:"address"`
	LongTermKey string `json:"longTermKey,omitempty"`
}

// Manager is a file-backed bond list.
type Manager struct {
	filename string
	lock     sync.RWMutex
	onRemove func(fpstorage.Addr) error
}

func NewBondManager(filename string) *Manager {
	return &Manager{filename: filename}
}

// OnRemove registers the function told about every removed bond, normally
// the account key store's Delete. It is called without the lock held.
func (m *Manager) OnRemove(fn func(fpstorage.Addr) error) {
	m.onRemove = fn
}

func (m *Manager) IsAddrBonded(addr fpstorage.Addr) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	bonds, err := m.loadBonds()
	if err != nil {
		fpstorage.ModuleLogger("bond").Errorf("failed to load bonds: %v", err)
		return false
	}

	return bonds.find(addr) >= 0
}

// Add stores a bond for addr, replacing any existing one.
func (m *Manager) Add(addr fpstorage.Addr, ltk []byte) error {
	if addr.IsAny() {
		return errors.Wrap(fpstorage.ErrInvalidArgument, "empty address")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	bonds, err := m.loadBonds()
	if err != nil {
		return err
	}

	rki := remoteKeyInfo{Address: addr.String(), LongTermKey: hex.EncodeToString(ltk)}
	if i := bonds.find(addr); i >= 0 {
		bonds.Bonds[i] = rki
	} else {
		bonds.Bonds = append(bonds.Bonds, rki)
	}

	return m.storeBonds(bonds)
}

// BondRemove deletes the bond with addr and reports it to the OnRemove
// function.
func (m *Manager) BondRemove(addr fpstorage.Addr) error {
	m.lock.Lock()
	bonds, err := m.loadBonds()
	if err != nil {
		m.lock.Unlock()
		return err
	}

	i := bonds.find(addr)
	if i < 0 {
		m.lock.Unlock()
		return errors.Wrapf(fpstorage.ErrNotFound, "bond %s", addr)
	}

	bonds.Bonds = append(bonds.Bonds[:i], bonds.Bonds[i+1:]...)
	err = m.storeBonds(bonds)
	m.lock.Unlock()
	if err != nil {
		return err
	}

	if m.onRemove != nil {
		if err := m.onRemove(addr); err != nil {
			fpstorage.ModuleLogger("bond").Warnf("bond removal of %s not delivered: %v", addr, err)
		}
	}

	return nil
}

// List returns the bonded addresses.
func (m *Manager) List() ([]fpstorage.Addr, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	bonds, err := m.loadBonds()
	if err != nil {
		return nil, err
	}

	out := make([]fpstorage.Addr, 0, len(bonds.Bonds))
	for _, b := range bonds.Bonds {
		a, err := fpstorage.ParseAddr(b.Address)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address in bond file")
		}
		out = append(out, a)
	}

	return out, nil
}

func (b *bondInfo) find(addr fpstorage.Addr) int {
	for i, rki := range b.Bonds {
		a, err := fpstorage.ParseAddr(rki.Address)
		if err == nil && a == addr {
			return i
		}
	}
	return -1
}

func (m *Manager) loadBonds() (*bondInfo, error) {
	var bonds bondInfo

	fileData, err := ioutil.ReadFile(m.filename)
	if os.IsNotExist(err) {
		return &bonds, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bond file information")
	}

	if len(fileData) > 0 {
		if err := jsoniter.Unmarshal(fileData, &bonds); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal current bond info")
		}
	}

	return &bonds, nil
}

func (m *Manager) storeBonds(bonds *bondInfo) error {
	out, err := jsoniter.Marshal(bonds)
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds to json")
	}

	if err := ioutil.WriteFile(m.filename, out, 0644); err != nil {
		return errors.Wrap(err, "failed to update bond information")
	}

	return nil
}
