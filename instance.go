package vkcore

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/hal/soft"
)

// Version is used to specify versions of components
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// App describes the application and picks the backend it runs on.
type App struct {
	// Name the name of the application
	Name string
	// Version the version of the application
	Version Version
	// Backend drives the hardware. When nil a software device is used.
	Backend hal.Backend
	// Logger receives structured logs; slog.Default() when nil.
	Logger *slog.Logger
}

// Instance is an opened backend.
type Instance struct {
	App     *App
	Backend hal.Backend

	log   *slog.Logger
	owned bool
}

// CreateInstance opens the backend named by the app.
func (a *App) CreateInstance() (*Instance, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	i := &Instance{App: a, Backend: a.Backend, log: logger.With("app", a.Name)}
	if i.Backend == nil {
		i.Backend = soft.New(soft.Options{Logger: logger})
		i.owned = true
	}
	i.log.Debug("instance created", "backend", i.Backend.Name(), "version", a.Version.String())
	return i, nil
}

// PhysicalDevices returns a list of physical devices known to the backend
func (i *Instance) PhysicalDevices() ([]*PhysicalDevice, error) {
	adapters, err := i.Backend.Adapters()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate adapters")
	}
	ret := make([]*PhysicalDevice, len(adapters))
	for n, a := range adapters {
		ret[n] = newPhysicalDevice(i, n, a)
	}
	return ret, nil
}

// Destroy tears down a backend the instance created itself.
func (i *Instance) Destroy() {
	if i.owned {
		i.Backend.Destroy()
	}
}
