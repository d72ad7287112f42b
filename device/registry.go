package device

import (
	"fmt"

	"github.com/ardnew/usbcore/pkg"
)

// RequestHandler answers class requests addressed to one interface.
type RequestHandler func(setup *SetupPacket) Answer

// InitFunc is called when the handler's configuration is activated. endpoint
// is the endpoint slot assigned to the handler: its interface number plus one.
type InitFunc func(endpoint uint8)

// ClassDriver is implemented by class drivers that handle requests for one
// interface.
type ClassDriver interface {
	HandleRequest(setup *SetupPacket) Answer
	Init(endpoint uint8)
}

// Deinitializer is optionally implemented by class drivers that must release
// state when their configuration is deactivated, on bus reset, or on detach.
type Deinitializer interface {
	Deinit()
}

type handlerEntry struct {
	handle RequestHandler
	init   InitFunc
	deinit func()
}

// Registry maps (configuration, interface) to class handlers. Rows are fixed
// at startup and read from the engine's execution context.
type Registry struct {
	rows [MaxConfigurations][MaxInterfaces]handlerEntry
}

// RegisterHandler associates a class request handler and optional init
// callback with an interface of a configuration. It must be called before the
// device is attached.
func (e *Engine) RegisterHandler(iface, config uint8, handler RequestHandler, init InitFunc) error {
	return e.registry.register(iface, config, handlerEntry{handle: handler, init: init})
}

// RegisterDriver registers d for an interface of a configuration.
func (e *Engine) RegisterDriver(iface, config uint8, d ClassDriver) error {
	if d == nil {
		return fmt.Errorf("register driver: %w", pkg.ErrInvalidParameter)
	}
	entry := handlerEntry{handle: d.HandleRequest, init: d.Init}
	if di, ok := d.(Deinitializer); ok {
		entry.deinit = di.Deinit
	}
	return e.registry.register(iface, config, entry)
}

func (r *Registry) register(iface, config uint8, entry handlerEntry) error {
	if config == 0 || config > MaxConfigurations || iface >= MaxInterfaces {
		return fmt.Errorf("interface %d configuration %d: %w", iface, config, pkg.ErrInvalidParameter)
	}
	if entry.handle == nil {
		return fmt.Errorf("interface %d configuration %d: nil handler: %w", iface, config, pkg.ErrInvalidParameter)
	}
	row := &r.rows[config-1][iface]
	if row.handle != nil {
		return fmt.Errorf("interface %d configuration %d: %w", iface, config, pkg.ErrBusy)
	}
	*row = entry
	pkg.LogDebug(pkg.ComponentRegistry, "handler registered",
		"interface", iface,
		"configuration", config)
	return nil
}

// Lookup returns the handler registered for an interface of a configuration.
func (r *Registry) Lookup(config, iface uint8) (RequestHandler, bool) {
	if config == 0 || config > MaxConfigurations || iface >= MaxInterfaces {
		return nil, false
	}
	h := r.rows[config-1][iface].handle
	return h, h != nil
}

// handle offers a class request to the handler of the addressed interface.
func (r *Registry) handle(config uint8, setup *SetupPacket) Answer {
	h, ok := r.Lookup(config, setup.InterfaceNumber())
	if !ok {
		return Unhandled()
	}
	return h(setup)
}

// init runs every init callback of a configuration in interface order.
func (r *Registry) init(config uint8) {
	if config == 0 || config > MaxConfigurations {
		return
	}
	for i := range r.rows[config-1] {
		if fn := r.rows[config-1][i].init; fn != nil {
			fn(uint8(i + 1))
		}
	}
}

// deinit notifies the drivers of a configuration that it is going away.
func (r *Registry) deinit(config uint8) {
	if config == 0 || config > MaxConfigurations {
		return
	}
	for i := range r.rows[config-1] {
		if fn := r.rows[config-1][i].deinit; fn != nil {
			fn()
		}
	}
}

// Registry returns the engine's handler registry.
func (e *Engine) Registry() *Registry {
	return &e.registry
}
