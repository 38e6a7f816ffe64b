// Package mediatypes classifies files into the closed set of media kinds
// the archive understands and maps extensions to MIME types.
package mediatypes
