// Package service contains the application use cases of the task lifecycle:
// submitting an image for processing, projecting a task's state for polling
// clients, and fetching a finished task's artifact.
//
// Services receive their stores and broker through constructor injection and
// translate store errors into the service sentinels below, which the API
// layer maps to HTTP status codes.
package service
