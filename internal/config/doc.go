// Package config defines configuration structures for the gulp CLI.
//
// Configuration can be provided via, in increasing precedence:
//   - YAML configuration file (--config)
//   - Environment variables (GULP_ prefix)
//   - Command-line flags
//
// Byte sizes accept SI and IEC suffixes ("64KB", "64KiB"); durations use
// time.ParseDuration syntax.
//
// # Example
//
//	output: downloads
//	workers: 4
//	buffer_size: 64KiB
//	headers:
//	  Authorization: Bearer abc
//	timeout:
//	  connect: 5s
//	  idle: 30s
//	retry:
//	  attempts: 10        # consecutive failures without progress, 0 = unlimited
//	  attempts_total: 0   # all attempts, 0 = unlimited
//	  backoff: 1s
//	  max_backoff: 5m
//	  jitter: 0.1
//	log:
//	  level: info
//	  json: false
package config
