// Package daemonctl launches, probes and stops a detached scribed process
// from the CLI.
package daemonctl
