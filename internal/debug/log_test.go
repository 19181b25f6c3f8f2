package debug_test

import (
	"testing"

	"github.com/cafworker/cafworker/internal/debug"
)

func BenchmarkLogStatic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		debug.Log("Static string")
	}
}

func BenchmarkLogMemberPath(b *testing.B) {
	for i := 0; i < b.N; i++ {
		debug.Log("member %s appended at offset %d", "T1/a.bin", 1024)
	}
}
