package main

import (
	"testing"

	"github.com/alexcesaro/log"
)

func TestVerbosityLevel(t *testing.T) {
	testcases := []struct {
		numVerbose int
		want       log.Level
	}{
		{0, log.Warning},
		{1, log.Info},
		{2, log.Debug},
		{3, log.Debug},
		{10, log.Debug},
	}
	for _, tc := range testcases {
		if got := verbosityLevel(tc.numVerbose); got != tc.want {
			t.Errorf("verbosity %d: got %v; want %v", tc.numVerbose, got, tc.want)
		}
	}
}
