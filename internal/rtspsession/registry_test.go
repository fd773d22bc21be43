package rtspsession

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aler9/rtsp-gateway/internal/source"
)

func TestRegistryFindByIDAndRemove(t *testing.T) {
	r := NewRegistry()
	s := New(ProtoTCP, nil, "1.2.3.4:5", "9.9.9.9:554")

	r.Add(s)
	require.Equal(t, s, r.FindByID(s.ID))

	r.Remove(s)
	require.Nil(t, r.FindByID(s.ID))
}

func TestRegistryFindByToken(t *testing.T) {
	r := NewRegistry()
	s := New(ProtoTCP, nil, "1.2.3.4:5", "9.9.9.9:554")
	r.Add(s)

	s.SetToken("tok-1")
	r.IndexToken(s, "tok-1")

	require.Equal(t, s, r.FindByToken("tok-1"))
	require.Equal(t, s, r.FindByToken("  tok-1  "))
	require.Nil(t, r.FindByToken("nope"))
}

func TestRegistryRemoveDropsTokenIndex(t *testing.T) {
	r := NewRegistry()
	s := New(ProtoTCP, nil, "1.2.3.4:5", "9.9.9.9:554")
	s.SetToken("tok-2")
	r.Add(s)

	r.Remove(s)
	require.Nil(t, r.FindByToken("tok-2"))
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	s1 := New(ProtoTCP, nil, "1.2.3.4:5", "9.9.9.9:554")
	s2 := New(ProtoUDP, nil, "1.2.3.4:6", "9.9.9.9:554")
	r.Add(s1)
	r.Add(s2)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Contains(t, snap, s1)
	require.Contains(t, snap, s2)
}

func TestRegistryAttachedTo(t *testing.T) {
	r := NewRegistry()
	src := source.New("cam1", nil, func(*source.Source) error { return nil }, func(*source.Source) {})

	attached := New(ProtoTCP, nil, "1.2.3.4:5", "9.9.9.9:554")
	attached.SetAttachedSource(src)
	unattached := New(ProtoTCP, nil, "1.2.3.4:6", "9.9.9.9:554")

	r.Add(attached)
	r.Add(unattached)

	out := r.AttachedTo(src.ID)
	require.Equal(t, []*Session{attached}, out)
}
