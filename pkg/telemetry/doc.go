// Package telemetry wires OpenTelemetry exporters and meters for the
// validation engine.
//
// It centralises trace provider setup, applies engine-specific resource
// attributes, and exposes the counters and histograms that describe
// validation calls, pipeline steps, and recovery behaviour, plus the audit
// sink that receives one event per public call.
package telemetry
