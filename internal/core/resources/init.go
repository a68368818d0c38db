// Package resources registers the resource definitions with the core registry.
// Import this package to ensure all resources are registered.
package resources

import "github.com/JonMunkholm/impex/internal/core"

func init() {
	for _, def := range Definitions() {
		core.Register(def)
	}
}

// Definitions returns fresh copies of every resource definition, for
// registering into a registry other than the default one.
func Definitions() []core.ResourceDefinition {
	return []core.ResourceDefinition{
		instruments(),
		bands(),
		artists(),
		memberships(),
	}
}

// NewRegistry returns a registry holding every resource.
func NewRegistry() *core.Registry {
	reg := core.NewRegistry()
	for _, def := range Definitions() {
		reg.Register(def)
	}
	return reg
}
