// Package manager runs the Fast Pair storage modules as one unit: it enables
// and disables them in order and performs a factory reset that survives a
// power loss half way through.
package manager

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rigado/fpstorage"
)

const (
	subtreeName   = "fp_mgr"
	resetFlagName = subtreeName + "/reset"
)

var resetFlag = []byte{0x01}

// Module is a storage module managed by Manager.
type Module interface {
	Name() string
	Enable() error
	Disable() error
	// Reset erases the module's persisted data. It must succeed when
	// repeated after an interruption, and must leave an enabled module
	// enabled.
	Reset() error
}

// ResetPreparer is implemented by modules that need to act before any
// module is reset.
type ResetPreparer interface {
	ResetPrepare()
}

type Manager struct {
	settings fpstorage.Settings
	modules  []Module
	log      fpstorage.Logger
	enabled  bool
}

func New(settings fpstorage.Settings, modules ...Module) *Manager {
	return &Manager{
		settings: settings,
		modules:  modules,
		log:      fpstorage.ModuleLogger("fp_storage_manager"),
	}
}

// Register appends a module. Modules are enabled in registration order.
func (m *Manager) Register(mod Module) {
	m.modules = append(m.modules, mod)
}

func (m *Manager) Enabled() bool {
	return m.enabled
}

// Init finishes an interrupted factory reset, if any, then enables every
// module. A failing module disables the ones already enabled.
func (m *Manager) Init() error {
	if m.enabled {
		m.log.Warn("storage manager already initialized")
		return nil
	}

	pending, err := m.resetPending()
	if err != nil {
		return err
	}
	if pending {
		m.log.Warn("resuming interrupted factory reset")
		if err := m.resetModules(); err != nil {
			return err
		}
	}

	for i, mod := range m.modules {
		if err := mod.Enable(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if derr := m.modules[j].Disable(); derr != nil {
					m.log.Errorf("failed to disable %s: %v", m.modules[j].Name(), derr)
				}
			}
			return errors.Wrapf(err, "failed to enable %s", mod.Name())
		}
	}

	m.enabled = true
	return nil
}

// Uninit disables every module in reverse order. Every failure is reported.
func (m *Manager) Uninit() error {
	if !m.enabled {
		m.log.Warn("storage manager already uninitialized")
		return nil
	}

	var errs error
	for i := len(m.modules) - 1; i >= 0; i-- {
		if err := m.modules[i].Disable(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "failed to disable %s", m.modules[i].Name()))
		}
	}

	m.enabled = false
	return errs
}

// FactoryReset erases all managed data. The persisted flag makes the next
// Init finish the job if this call does not return.
func (m *Manager) FactoryReset() error {
	if err := m.settings.Save(resetFlagName, resetFlag); err != nil {
		return errors.Wrap(err, "failed to mark factory reset")
	}

	return m.resetModules()
}

func (m *Manager) resetModules() error {
	for _, mod := range m.modules {
		if p, ok := mod.(ResetPreparer); ok {
			p.ResetPrepare()
		}
	}

	for _, mod := range m.modules {
		if err := mod.Reset(); err != nil {
			return errors.Wrapf(err, "failed to reset %s", mod.Name())
		}
	}

	if err := m.settings.Delete(resetFlagName); err != nil {
		return errors.Wrap(err, "failed to clear factory reset mark")
	}

	m.log.Info("factory reset complete")
	return nil
}

func (m *Manager) resetPending() (bool, error) {
	pending := false
	err := m.settings.Load(subtreeName+"/", func(name string, value []byte) error {
		if name == resetFlagName {
			pending = true
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to read factory reset mark")
	}
	return pending, nil
}
