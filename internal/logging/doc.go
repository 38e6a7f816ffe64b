// Package logging provides leveled logging with optional rotating file
// output, controlled by the LOG_LEVEL, DEBUG and LOG_FILE environment
// variables.
package logging
