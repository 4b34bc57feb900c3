// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build !unix

package process

import "os"

// signalOf always reports no signal; the platform has no signal status.
func signalOf(*os.ProcessState) string { return "" }
