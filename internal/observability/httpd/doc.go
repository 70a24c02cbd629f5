// Package httpd serves the admin API: health, Prometheus metrics, pprof and
// JSON trigger and claim operations.
package httpd
