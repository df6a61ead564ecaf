// Package tools provides host process helpers shared by the core supervisor.
//
// Ownership boundary:
// - executable resolution and child environment assembly
//
// - exit status classification for os/exec errors
package tools
