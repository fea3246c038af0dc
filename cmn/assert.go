// Package cmn provides common low-level types and utilities shared by every
// FAM component: wire schemas, the error sum-type, and process configuration.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Assert panics on an invariant violation. Reserved for conditions that
// indicate a bug in this process, never for user-triggerable input.
func Assert(cond bool) {
	if !cond {
		panic("FAM assertion failed")
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("FAM assertion failed: " + msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("FAM assertion failed: unexpected error: %v", err))
	}
}
