// Package modules contains the self-contained features of the relay.
//
// Each subdirectory is a module implementing `module.Module`. Modules are
// listed in `internal/server/modules.go` and booted in that order at startup.
package modules
