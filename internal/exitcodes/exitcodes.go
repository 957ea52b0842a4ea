// Package exitcodes defines the process exit codes encab returns.
//
// Most values follow the BSD sysexits.h convention (see
// /usr/include/sysexits.h); configuration errors and config-loading
// I/O errors use the plain codes 2 and 1 instead.
package exitcodes

const (
	OK           = 0  // successful termination
	DataErr      = 65 // data format error
	NoInput      = 66 // cannot open input
	Unavailable  = 69 // service unavailable
	Software     = 70 // internal software error
	OSErr        = 71 // system error (e.g. can't fork)
	IOErr        = 74 // input/output error
	NoPerm       = 77 // permission denied
	ConfigErrExt = 78 // configuration error

	// NoChild is returned when reap_zombies waits for a child that is
	// never observed to terminate (wait-any returned ECHILD first).
	NoChild = OSErr

	// UnknownRC is returned when the main program's exit code could
	// not be determined (e.g. it crashed before exec).
	UnknownRC = OSErr

	// IOError covers config file load failures.
	IOError = 1

	// ConfigError covers invalid YAML / unknown option / bad user,
	// group, umask or environment variable name.
	ConfigError = 2

	// InsufficientPermissions is returned when encab cannot set its
	// own uid/gid.
	InsufficientPermissions = NoPerm

	// Interrupted is returned after a clean SIGINT-driven shutdown.
	Interrupted = OK

	// Terminated is returned after a clean SIGTERM-driven shutdown.
	Terminated = OK
)
