// Paper Tracker Link
// Copyright (c) 2026 The Paper Tracker Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Paper Tracker Link.
//
// Paper Tracker Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Paper Tracker Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Paper Tracker Link.  If not, see <http://www.gnu.org/licenses/>.

// Package validation checks request parameters with go-playground/validator
// and a few custom tags for tracker-specific values.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/papertracker/trackerlink/pkg/protocol"
)

// Common validation errors.
var (
	ErrMissingParams = errors.New("missing params")
	ErrInvalidParams = errors.New("invalid params")
)

// Firmware variants accepted by the "variant" tag.
const (
	VariantStable = "stable"
	VariantBeta   = "beta"
)

// Validator handles validation of request parameters.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator with registered custom validators.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("role", validateRole)
	_ = v.RegisterValidation("variant", validateVariant)
	_ = v.RegisterValidation("wifitext", validateWifiText)

	return &Validator{validate: v}
}

// DefaultValidator is a shared validator instance.
var DefaultValidator = NewValidator()

// Validate validates a struct and returns a formatted error if validation fails.
func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateAndUnmarshal unmarshals JSON params and validates them.
// Returns ErrMissingParams if params is empty, ErrInvalidParams if unmarshal fails,
// or an Error if validation fails.
func ValidateAndUnmarshal[T any](params json.RawMessage, dest *T) error {
	if len(params) == 0 {
		return ErrMissingParams
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return ErrInvalidParams
	}
	return DefaultValidator.Validate(dest)
}

// validateRole accepts role names and numeric role codes.
func validateRole(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if val == "" {
		return true
	}
	_, err := protocol.ParseRole(val)
	return err == nil
}

func validateVariant(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "", VariantStable, VariantBeta:
		return true
	default:
		return false
	}
}

// validateWifiText rejects values that would terminate a serial packet
// early once embedded in a credentials command.
func validateWifiText(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for i := 0; i+1 < len(val); i++ {
		if val[i] == 'B' && val[i+1] >= '0' && val[i+1] <= '9' {
			return false
		}
	}
	return !strings.Contains(val, "PWD")
}
