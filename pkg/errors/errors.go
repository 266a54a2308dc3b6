// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

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
	CodeStoreRecordNotFound Code = "store.record.not_found"
	CodeStoreInvalidInput   Code = "store.invalid_input"
	CodeStoreIndexDangling  Code = "store.index.dangling_reference"
	CodeStoreEncryptFailure Code = "store.payload.encrypt.failure"
	CodeStoreDecryptFailure Code = "store.payload.decrypt.failure"

	CodeSnapshotNotFound           Code = "store.snapshot.not_found"
	CodeSnapshotSaveFailure        Code = "store.snapshot.save.failure"
	CodeSnapshotLoadFailure        Code = "store.snapshot.load.failure"
	CodeSnapshotFormatInvalid      Code = "store.snapshot.parse.invalid_format"
	CodeSnapshotBackendUnsupported Code = "store.snapshot.backend.unsupported"

	CodeKeysNotFound     Code = "keys.material.not_found"
	CodeKeysInvalidInput Code = "keys.invalid_input"
	CodeKeysStoreFailure Code = "keys.store.failure"
	CodeKeysLoadFailure  Code = "keys.load.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeBackupCreateFailure  Code = "backup.create.failure"
	CodeBackupRestoreFailure Code = "backup.restore.failure"
	CodeBackupNotFound       Code = "backup.not_found"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldRecordID(value string) Attr {
	return Field("record_id", value)
}

func FieldTag(value string) Attr {
	return Field("tag", value)
}

func FieldBackend(value string) Attr {
	return Field("backend", value)
}

func FieldPath(value string) Attr {
	return Field("path", value)
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
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
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

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
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

// IsDecryptionFailure reports whether a payload could not be decrypted with
// any available key. The record remains present but unreadable.
func IsDecryptionFailure(err error) bool {
	return HasCode(err, CodeStoreDecryptFailure)
}

// IsPersistenceFailure reports whether a snapshot save/load or backup
// operation failed against durable storage.
func IsPersistenceFailure(err error) bool {
	code := string(CodeOf(err))
	if reason(Code(code)) != "failure" {
		return false
	}
	return strings.Contains(code, "snapshot") || strings.HasPrefix(code, "backup.")
}

func IsIndexDangling(err error) bool {
	return HasCode(err, CodeStoreIndexDangling)
}

// HTTPStatus maps an error to the status an external transport collaborator
// should return. Mnemos itself exposes no network surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsDecryptionFailure(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeInternalFailure).Wrap(stderrors.Join(errs...))
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
