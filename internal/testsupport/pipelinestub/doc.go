// Package pipelinestub hosts a deterministic HTTP fake of the downstream
// transfer pipeline. Tests point an HTTP transporter at it to assert the jobs
// it received, the credentials it presented and how retries behaved.
package pipelinestub
