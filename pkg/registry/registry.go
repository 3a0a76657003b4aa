// Package registry resolves logical service names to base URLs for
// synchronous service-to-service calls. The mapping is assembled once on
// first use from environment overrides plus compiled defaults and is
// immutable afterwards.
package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrUnknownService indicates the logical name has no override and no
// compiled default.
var ErrUnknownService = errors.New("unknown_service")

// defaultPorts: every first-party service listens on 8000 behind its own
// hostname in the compose/cluster network.
var defaultServices = []string{
	"auth", "company", "product", "inventory", "pos", "purchase", "hrms",
	"accounting", "manufacturing", "notification", "reporting", "promotion",
	"payment", "intelligence", "quality", "logistics", "asset", "customer",
}

var (
	once    sync.Once
	baseURL map[string]string
)

func initRegistry() {
	baseURL = make(map[string]string, len(defaultServices))
	for _, name := range defaultServices {
		baseURL[name] = "http://" + name + ":8000"
	}
	// Env overrides of the form <LOGICAL>_SERVICE_URL, e.g.
	// INVENTORY_SERVICE_URL=http://inventory.internal:9000
	for _, name := range defaultServices {
		key := strings.ToUpper(name) + "_SERVICE_URL"
		if v := os.Getenv(key); v != "" {
			baseURL[name] = strings.TrimSuffix(v, "/")
		}
	}
}

// Resolve returns the base URL for a logical service name.
func Resolve(name string) (string, error) {
	once.Do(initRegistry)
	url, ok := baseURL[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return url, nil
}

// APIURL returns the service's API root, i.e. its base URL plus "/api".
func APIURL(name string) (string, error) {
	base, err := Resolve(name)
	if err != nil {
		return "", err
	}
	return base + "/api", nil
}
