/*
Package httprecorder keeps every request a fake upstream receives, so tests can assert how
many calls got past a replaying recorder and what they carried.
*/
package httprecorder
