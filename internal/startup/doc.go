// Package startup owns process configuration and the structured
// startup/shutdown log output. Configuration comes from environment
// variables, optionally seeded from a .env file.
package startup
