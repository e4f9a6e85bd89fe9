// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks every configuration validation failure. Callers test
// with errors.Is; the message carries the offending field paths.
var ErrInvalid = errors.New("invalid configuration")

// Singleton validator: thread-safe and caches struct metadata, so one
// instance serves the whole process.
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields under their koanf names so error messages read
		// like the YAML the user wrote, not like Go struct paths.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := strings.Split(fld.Tag.Get("koanf"), ",")[0]
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
	})
	return validate
}

// Validate checks the whole document. All failures are collected into a
// single error wrapping ErrInvalid.
func (c *Config) Validate() error {
	var problems []string

	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s %s", fieldPath(fe), describe(fe)))
		}
	}

	// (name, country) pairs must be unique; the tag language cannot
	// express cross-element checks, so this lives in code.
	seen := make(map[string]int, len(c.StreamingProviders))
	for i, sp := range c.StreamingProviders {
		key := sp.Name + "/" + sp.Country
		if first, dup := seen[key]; dup {
			problems = append(problems, fmt.Sprintf(
				"streamingProviders[%d] duplicates entry %d (%s in %s)", i, first, sp.Name, sp.Country))
			continue
		}
		seen[key] = i
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// fieldPath strips the root struct name from the validator namespace,
// leaving the koanf-style path (pvr.apiKey, sync.action, ...).
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// describe turns a failed tag into a human sentence.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when the source is enabled"
	case "http_url":
		return "must be an http or https URL"
	case "alphanum":
		return "must contain only letters and digits"
	case "alpha":
		return "must contain only letters"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
