/*
Package worker runs a periodic loop with observability, and backs off while the work keeps
failing.

The replay server uses it to reload its cassette from a shared store.
*/
package worker
