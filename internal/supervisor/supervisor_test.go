package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Stop must tolerate a Supervisor whose construction failed partway
// through, where only some transport clients were ever assigned.
func TestSupervisor_Stop_NilSafeOnPartiallyConstructed(t *testing.T) {
	s := &Supervisor{}
	assert.NotPanics(t, func() { s.Stop() })
}
