// Killfeed - PvP Combat Log Ingestion and Bounty Engine
// Copyright 2026 pvpstats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pvpstats/killfeed

package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter routes watermill's internal logging through the
// global zerolog logger so feed internals share the process log format.
type WatermillAdapter struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a watermill.LoggerAdapter backed by the
// global logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &WatermillAdapter{}
}

func (a *WatermillAdapter) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range a.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Error implements watermill.LoggerAdapter.
func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(Error().Err(err), msg, fields)
}

// Info implements watermill.LoggerAdapter. Watermill's info chatter is
// demoted to debug; the pipeline logs its own milestones.
func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(Debug(), msg, fields)
}

// Debug implements watermill.LoggerAdapter.
func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(Debug(), msg, fields)
}

// Trace implements watermill.LoggerAdapter. zerolog's trace level is
// below our configurable floor, so trace output lands on debug too.
func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(Debug(), msg, fields)
}

// With implements watermill.LoggerAdapter.
func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &WatermillAdapter{fields: merged}
}
