package device

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"
)

// Factory constructs a backend. Registered by backend packages at import
// time, the way database drivers register themselves.
type Factory func() (Backend, error)

var registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	backends  map[string]Backend
	def       string
}

// Register makes a backend constructor available under name.
func Register(name string, f Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.factories == nil {
		registry.factories = make(map[string]Factory)
	}
	if _, dup := registry.factories[name]; dup {
		panic("device: duplicate registration of " + name)
	}
	registry.factories[name] = f
}

// Registered lists the registered backend names, sorted.
func Registered() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	names := make([]string, 0, len(registry.factories))
	for n := range registry.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Init initialises the requested backends, or every registered backend
// when none are named. It returns the names that succeeded; per-device
// failures are aggregated but do not fail the call unless nothing came
// up. Idempotent: already-initialised devices are kept.
func Init(names ...string) ([]string, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.backends == nil {
		registry.backends = make(map[string]Backend)
	}
	if len(names) == 0 {
		for n := range registry.factories {
			names = append(names, n)
		}
		slices.Sort(names)
	}

	var ok []string
	var errs error
	for _, name := range names {
		if _, up := registry.backends[name]; up {
			ok = append(ok, name)
			continue
		}
		f, known := registry.factories[name]
		if !known {
			errs = multierr.Append(errs, errors.Wrap(ErrUnknownDevice, name))
			continue
		}
		b, err := f()
		if err != nil {
			klog.V(1).Infof("device: %s unavailable: %v", name, err)
			errs = multierr.Append(errs, errors.Wrapf(err, "init %s", name))
			continue
		}
		klog.V(1).Infof("device: initialised %s", name)
		registry.backends[name] = b
		ok = append(ok, name)
		if registry.def == "" {
			registry.def = name
		}
	}
	if len(ok) == 0 {
		return nil, errs
	}
	return ok, nil
}

// Get returns an initialised backend. An empty name selects the default
// device.
func Get(name string) (Backend, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if name == "" {
		name = registry.def
	}
	if name == "" {
		return nil, errors.Wrap(ErrNotInitialized, "no default device; call Init first")
	}
	b, up := registry.backends[name]
	if !up {
		return nil, errors.Wrap(ErrNotInitialized, name)
	}
	return b, nil
}

// SetDefault selects the default device; it must already be initialised.
func SetDefault(name string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, up := registry.backends[name]; !up {
		return errors.Wrap(ErrNotInitialized, name)
	}
	registry.def = name
	return nil
}

// Shutdown closes every initialised backend and clears the default.
func Shutdown() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for name, b := range registry.backends {
		b.Close()
		delete(registry.backends, name)
	}
	registry.def = ""
}
