//go:build !race

package rpcq

import "testing"

func skipRace(testing.TB) {}
