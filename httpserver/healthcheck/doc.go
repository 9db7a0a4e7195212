/*
Package healthcheck serves the admin API: liveness and readiness built from the health checks
that cassette stores provide, and the Go runtime's pprof handlers.
*/
package healthcheck
