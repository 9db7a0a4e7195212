/*
Package httpserver runs HTTP handlers, such as the replay server and its admin API, with
graceful shutdown on context cancellation.
*/
package httpserver
