// Package config loads the daemon and driver's on-disk defaults and merges
// them with cobra flags, flags always winning. Each component gets its own
// small Config struct, the same way pkg/log and the worker package do.
package config
