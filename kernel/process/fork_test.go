package process

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForkReturnsChildPIDToCaller(t *testing.T) {
	resetTable(t)

	parent, _ := Spawn(0, "parent", UserMode)
	SetCurrent(parent)

	origTrampoline := ForkTrampolineAddr
	ForkTrampolineAddr = 0xdeadbeef
	defer func() { ForkTrampolineAddr = origTrampoline }()

	childPID, err := Fork()
	require.Nil(t, err)

	child, findErr := Find(childPID)
	require.Nil(t, findErr)
	require.Equal(t, parent.PID, child.PPID)
	require.Equal(t, uint64(0xdeadbeef), child.Ctx.Regs.RIP)
}
