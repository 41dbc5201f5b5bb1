package chat

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterEvictsSameDevice(t *testing.T) {
	reg := NewRegistry()

	first, firstConn := testEntry("c1", "pub-a", "int-a", "dev-1")
	require.Nil(t, reg.Register(first))

	second, _ := testEntry("c2", "pub-a", "int-a", "dev-1")
	evicted := reg.Register(second)

	require.NotNil(t, evicted)
	assert.Equal(t, "c1", evicted.ConnID)
	assert.Nil(t, reg.FindByConnection("c1"))
	require.NotNil(t, reg.FindByConnection("c2"))
	assert.False(t, firstConn.isClosed(), "registry must not close transports itself")
}

func TestRegistryDifferentDevicesCoexist(t *testing.T) {
	reg := NewRegistry()

	phone, _ := testEntry("c1", "pub-a", "int-a", "phone")
	laptop, _ := testEntry("c2", "pub-a", "int-a", "laptop")
	require.Nil(t, reg.Register(phone))
	require.Nil(t, reg.Register(laptop))

	assert.Len(t, reg.ListByUsers([]string{"int-a"}), 2)
}

func TestRegistryRemoveReportsOtherDevice(t *testing.T) {
	reg := NewRegistry()

	phone, _ := testEntry("c1", "pub-a", "int-a", "phone")
	laptop, _ := testEntry("c2", "pub-a", "int-a", "laptop")
	reg.Register(phone)
	reg.Register(laptop)

	removed, hadOther := reg.Remove("c1")
	require.NotNil(t, removed)
	assert.True(t, hadOther)

	removed, hadOther = reg.Remove("c2")
	require.NotNil(t, removed)
	assert.False(t, hadOther)

	removed, hadOther = reg.Remove("c2")
	assert.Nil(t, removed)
	assert.False(t, hadOther)
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	reg := NewRegistry()

	ent, _ := testEntry("c1", "pub-a", "int-a", "dev-1")
	reg.Register(ent)

	snap := reg.FindByConnection("c1")
	snap.ActiveConversationID = "tampered"

	assert.Empty(t, reg.FindByConnection("c1").ActiveConversationID)
}

func TestRegistrySetActiveConversation(t *testing.T) {
	reg := NewRegistry()

	ent, _ := testEntry("c1", "pub-a", "int-a", "dev-1")
	reg.Register(ent)

	require.True(t, reg.SetActiveConversation("c1", "conv-1"))
	assert.Equal(t, "conv-1", reg.FindByConnection("c1").ActiveConversationID)
	assert.False(t, reg.SetActiveConversation("ghost", "conv-1"))

	got := reg.ListByConversation("conv-1")
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ConnID)
	assert.Empty(t, reg.ListByConversation("conv-2"))
}

func TestRegistryConcurrentSameDeviceRegisters(t *testing.T) {
	reg := NewRegistry()
	const n = 64

	var evictions atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ent, _ := testEntry(fmt.Sprintf("c%d", i), "pub-a", "int-a", "dev-1")
			if reg.Register(ent) != nil {
				evictions.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Whatever the interleaving, exactly one session survives.
	assert.Len(t, reg.ListByUsers([]string{"int-a"}), 1)
	assert.Equal(t, int64(n-1), evictions.Load())
}
