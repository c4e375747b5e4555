package camera

import "testing"

func TestIsRearFacing(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"Back Camera", true},
		{"camera2 0, facing back", true},
		{"Câmera traseira", true},
		{"Câmera principal", true},
		{"Rear Wide", true},
		{"FaceTime HD Camera", false},
		{"Front Camera", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := IsRearFacing(tt.label); got != tt.want {
				t.Errorf("IsRearFacing(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestSelectDevice(t *testing.T) {
	three := []Device{{ID: "a", Label: "Front"}, {ID: "b", Label: "USB"}, {ID: "c", Label: "Webcam"}}
	withRear := []Device{{ID: "f", Label: "Front"}, {ID: "r", Label: "Back Camera"}}
	single := []Device{{ID: "only", Label: "Front"}}

	tests := []struct {
		name    string
		devices []Device
		attempt int
		want    string
	}{
		{"first attempt prefers rear", withRear, 1, "r"},
		{"first attempt falls back to first", three, 1, "a"},
		{"second attempt", three, 2, "b"},
		{"third attempt", three, 3, "c"},
		{"wraps around", three, 4, "a"},
		{"retry ignores rear preference", withRear, 3, "f"},
		{"retry with rear", withRear, 2, "r"},
		{"single device", single, 5, "only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectDevice(tt.devices, tt.attempt)
			if !ok {
				t.Fatal("expected a device")
			}
			if got.ID != tt.want {
				t.Errorf("SelectDevice(attempt %d) = %q, want %q", tt.attempt, got.ID, tt.want)
			}
			again, _ := SelectDevice(tt.devices, tt.attempt)
			if again != got {
				t.Errorf("selection not deterministic: %v then %v", got, again)
			}
		})
	}

	if _, ok := SelectDevice(nil, 1); ok {
		t.Error("expected no device for empty list")
	}
}

func TestRangeContains(t *testing.T) {
	r := ScanConstraints.Width
	if !r.Contains(1920) || !r.Contains(480) || !r.Contains(4096) {
		t.Error("expected bounds to be inclusive")
	}
	if r.Contains(479) || r.Contains(4097) {
		t.Error("expected values outside bounds to be rejected")
	}
	if !(Range{Ideal: 30}).Contains(1) {
		t.Error("open range should accept anything")
	}
}

func TestSurfaceAttach(t *testing.T) {
	m := newFakeMedia()
	a, b := m.open(&behavior{}), m.open(&behavior{})

	var s Surface
	if prev := s.Attach(a); prev != nil {
		t.Fatal("expected empty surface")
	}
	if prev := s.Attach(b); prev != Stream(a) {
		t.Error("expected first stream to be returned on replace")
	}
	if s.Current() != Stream(b) {
		t.Error("expected second stream attached")
	}
	if s.Detach() != Stream(b) || s.Current() != nil {
		t.Error("expected detach to clear the surface")
	}
}
