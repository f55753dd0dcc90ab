// Package sources turns the two Readerware acquisition paths into one
// catalog.Source capability. Drivers register themselves by name from
// their init functions; import sources/all to get every driver.
package sources

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/darianmavgo/rwmigrate/catalog"
)

// Options configures how a driver reads its input.
type Options struct {
	Charset string // tabular input charset, "" means utf-8

	// Native backup script settings.
	Table        string              // main table, "" means READERWARE
	Lookups      map[string]string   // column -> lookup table
	Merge        map[string][]string // merged field -> columns joined with ';'
	ImageColumns []string            // candidate cover columns, empty means every binary column

	Logger *slog.Logger
}

// Driver opens a record source over a byte stream.
type Driver interface {
	Open(r io.Reader, opts *Options) (catalog.Source, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a source driver available by the provided name.
// If Register is called twice with the same name or if driver is nil, it panics.
func Register(name string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if driver == nil {
		panic("sources: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("sources: Register called twice for driver " + name)
	}
	drivers[name] = driver
}

// Open opens a record source by driver name.
func Open(driverName string, r io.Reader, opts *Options) (catalog.Source, error) {
	driversMu.RLock()
	driver, ok := drivers[driverName]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sources: unknown driver %q (forgotten import?)", driverName)
	}
	if opts == nil {
		opts = &Options{}
	}
	return driver.Open(r, opts)
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}
