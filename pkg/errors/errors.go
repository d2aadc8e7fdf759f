// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeStoreAuditAppendFailure Code = "store.audit.append.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeLeashGuardBlocked        Code = "leash.guard.blocked"
	CodeLeashGuardRuleInvalid    Code = "leash.guard.rule.invalid"
	CodeLeashBudgetCallsExceeded Code = "leash.budget.calls.exceeded"
	CodeLeashBudgetUnitsExceeded Code = "leash.budget.units.exceeded"
	CodeLeashWrapShapeInvalid    Code = "leash.wrap.shape.invalid"
	CodeLeashAuditFailure        Code = "leash.audit.failure"
	CodeLeashToolPanic           Code = "leash.tool.panic"

	CodeBudgetReservationInvalid Code = "budget.reservation.invalid_input"
	CodeBudgetBackendFailure     Code = "budget.backend.failure"

	CodeBoundarySchemaInvalid       Code = "boundary.schema.invalid"
	CodeBoundaryPayloadInvalid      Code = "boundary.payload.invalid"
	CodeBoundaryPayloadParseInvalid Code = "boundary.payload.parse.invalid_format"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeSecretInvalidInput Code = "secret.invalid_input"
	CodeSecretNotFound     Code = "secret.not_found"
	CodeSecretStoreFailure Code = "secret.store.failure"

	CodeCLISetupFailure      Code = "cli.setup.failure"
	CodeCLIInputInvalid      Code = "cli.input.invalid"
	CodeCLISidecarNotRunning Code = "cli.sidecar.not_running"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// FieldValue creates a structured error field.
func FieldValue(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// Field is kept as the primary helper for terse callsites.
func Field(key string, value any) Attr {
	return FieldValue(key, value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldScope(value string) Attr {
	return Field("scope", value)
}

func FieldInvocationID(value string) Attr {
	return Field("invocation_id", value)
}

func FieldBackend(value string) Attr {
	return Field("backend", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the innermost code in the chain. Typed leash errors carry
// their own code and take precedence over any oops wrapper around them.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var c coder
	if stderrors.As(err, &c) {
		return c.Code()
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// FieldsOf merges the oops context of the chain with the structured fields
// of any typed leash error found in it.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	var out map[string]any
	if oopsErr, ok := oops.AsOops(err); ok {
		out = oopsErr.Context()
	}

	var f fielder
	if stderrors.As(err, &f) {
		if out == nil {
			out = make(map[string]any)
		}
		for k, v := range f.Fields() {
			out[k] = v
		}
	}

	return out
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsBlocked(err error) bool {
	return reason(CodeOf(err)) == "blocked"
}

func IsBudgetExceeded(err error) bool {
	r := reason(CodeOf(err))
	return r == "exceeded" || r == "budget_exceeded"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsBlocked(err):
		return http.StatusForbidden
	case IsBudgetExceeded(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

type coder interface {
	Code() Code
}

type fielder interface {
	Fields() map[string]any
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
