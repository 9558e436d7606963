// Package script is the Script Engine.
//
// A script module is found by name on an ordered search path of Sources,
// loaded once and cached. A module must expose exactly one Script unit;
// zero or several is a contract violation. Modules are registered
// explicitly as factories: Go modules through StaticSource at start-up,
// YAML workflows through the workflow package's directory source.
//
// Execute never returns an error. Every invocation, including a missing
// module, a contract violation, a returned error or a panic in the unit,
// yields a well-formed Result with status success, failed or error.
package script
