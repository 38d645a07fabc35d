package sse_test

import (
	"io"
	"log"
)

func init() {
	log.SetOutput(io.Discard)
}

// event is a minimal fan-out payload for tests.
type event struct {
	Data string `json:"data"`
}
