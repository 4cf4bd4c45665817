//go:build !race

package rpc

import "testing"

func skipRace(testing.TB) {}
