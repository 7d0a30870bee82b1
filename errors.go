// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ancestry

import "fmt"

// ConfigurationError indicates an invalid pipeline configuration, such
// as an unknown method name or a PC count exceeding the columns
// available in the input tables.
type ConfigurationError struct {
	msg string
}

func (e ConfigurationError) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) error {
	return ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// InsufficientDataError indicates a population with too few
// training-eligible reference samples to fit the chosen model.
type InsufficientDataError struct {
	Population string
	N          int
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("population %q has %d training-eligible reference samples, need at least 2", e.Population, e.N)
}

// UnknownLabelError indicates a sample was assigned a population for
// which no reference training data exists.
type UnknownLabelError struct {
	Population string
}

func (e UnknownLabelError) Error() string {
	return fmt.Sprintf("no reference training data for assigned population %q", e.Population)
}

// InputFormatError indicates a malformed projection, metadata, or
// score file.
type InputFormatError struct {
	msg string
}

func (e InputFormatError) Error() string { return e.msg }

func inputErrorf(format string, args ...interface{}) error {
	return InputFormatError{msg: fmt.Sprintf(format, args...)}
}
