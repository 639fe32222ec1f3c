// Package server hosts the Fiber HTTP service that fronts the offline cache
// dispatcher: the middleware chain (panic recovery, request ids), the
// catch-all route feeding the proxy handler, and the shared upstream
// http.Client. Control endpoints under /-/ live in the routes subpackage so
// this package stays free of dispatcher dependencies.
package server
