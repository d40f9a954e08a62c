package ifacemgr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortAddrFormatsAnyInterfaceAddress(t *testing.T) {
	require.Equal(t, ":520", portAddr(520))
}

func TestManagerRemoveUnknownInterfaceIsNoop(t *testing.T) {
	m := NewManager(520)
	m.RemoveInterface("does-not-exist")
	require.Empty(t, m.All())
}

func TestManagerAddInterfaceReportsBindFailureForUnknownName(t *testing.T) {
	m := NewManager(520)
	_, err := m.AddInterface("definitely-not-a-real-interface-xyz")
	require.Error(t, err)
}
