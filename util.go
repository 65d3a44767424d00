package main

import (
	"fmt"
	"os"
)

func verifyAllocationsEnvSet() bool {
	return os.Getenv(verifyAllocationsEnv) == "1"
}

func sectionIDString(id SectionID) string {
	return fmt.Sprintf("#%d", id)
}

// align rounds up to the next multiple of a (a must be a power of two).
func alignUp(v, a uint64) uint64 {
	if a == 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}
