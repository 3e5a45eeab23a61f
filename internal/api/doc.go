// Package api handles incoming HTTP requests, request validation, and
// response formatting for task submission and polling. It is the adapter
// between HTTP clients and the task service: handlers translate uploads into
// service calls and service errors into status codes, and never return raw
// error text to clients.
package api
