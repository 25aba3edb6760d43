// Package publishapi holds the wire types of the worker trigger endpoint.
package publishapi

import "errors"

const WorkerKeyHeader = "X-Worker-Key"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

type TriggerRequest struct {
	JobId string `json:"jobId,omitempty"`
}

type TriggerResponse struct {
	Success bool   `json:"success"`
	JobId   string `json:"jobId,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
