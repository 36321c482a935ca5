// Package tls terminates HTTPS for the image service. The server certificate
// is read from disk and swapped in place when the files change, so rotation
// needs no restart.
package tls
