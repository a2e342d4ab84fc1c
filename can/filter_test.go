package can

import (
	"errors"
	"testing"
)

func TestFilterValidate(t *testing.T) {
	cases := []struct {
		name string
		f    Filter
		ok   bool
	}{
		{"std_ok", Filter{ID: 0x7FF, Mask: SFFMask}, true},
		{"std_id_too_big", Filter{ID: 0x800, Mask: SFFMask}, false},
		{"ext_ok", Filter{ID: 0x18DAF110, Mask: EFFMask, Extended: true}, true},
		{"ext_id_too_big", Filter{ID: 0x20000000, Extended: true}, false},
		{"mask_too_big", Filter{ID: 0x1, Mask: 0x20000000}, false},
	}
	for _, tc := range cases {
		err := tc.f.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("%s: got %v, want ErrInvalidFilter", tc.name, err)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	f := Filter{ID: 0x120, Mask: 0x7F0}
	if !f.Match(New(0x123, nil)) {
		t.Fatal("0x123 should match 0x120/0x7F0")
	}
	if f.Match(New(0x133, nil)) {
		t.Fatal("0x133 should not match 0x120/0x7F0")
	}

	inv := Filter{ID: 0x120, Mask: 0x7F0, Invert: true}
	if inv.Match(New(0x123, nil)) {
		t.Fatal("inverted rule should reject 0x123")
	}
	if !inv.Match(New(0x133, nil)) {
		t.Fatal("inverted rule should accept 0x133")
	}
}

func TestFrameFilterCombinators(t *testing.T) {
	both := And(ByID(0x123), OfKind(KindRemote))
	if !both(NewRemote(0x123, 2)) {
		t.Fatal("remote 0x123 should match")
	}
	if both(New(0x123, nil)) {
		t.Fatal("data 0x123 should not match")
	}
	if both(NewRemote(0x124, 2)) {
		t.Fatal("remote 0x124 should not match")
	}
	if And(nil, nil) != nil {
		t.Fatal("And(nil, nil) should be nil (match-all)")
	}
}
