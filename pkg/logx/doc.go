// Package logx is the process logger: zerolog underneath, a value-typed
// Logger on top, and a Service that tees every line to the console, the main
// log file and the log file of the configuration currently running.
package logx
