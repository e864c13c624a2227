// Package relay holds the records shared by the gasless relayer, the nonce
// service and the reconciliation watcher.
package relay
