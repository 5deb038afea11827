// Package logging configures the process-wide structured logger.
//
// All components log through log/slog with a "component" attribute, so
// installing the configured handler as the slog default is the only
// setup the rest of the system needs.
package logging
