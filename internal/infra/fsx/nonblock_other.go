//go:build !unix

package fsx

import "os"

const oNonblock = 0

func setBlocking(*os.File) error { return nil }
