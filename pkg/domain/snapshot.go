package domain

// Point is a pixel coordinate on the device screen.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Snapshot is a single screen capture.
// Image holds PNG bytes; Structure holds the raw widget hierarchy dump as returned by the device.
type Snapshot struct {
	Image                 []byte
	Width                 int
	Height                int
	Structure             []byte
	StructuralFingerprint string
	Features              []string
	PerceptualHash        uint64
	ContainerIdentity     string
	Bundle                string
}

// HasFingerprint reports whether a structural fingerprint was computed for the screen.
func (s *Snapshot) HasFingerprint() bool {
	return s != nil && s.StructuralFingerprint != ""
}

// Clone returns a deep copy so a refreshed snapshot never aliases the previous one.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Image = append([]byte(nil), s.Image...)
	c.Structure = append([]byte(nil), s.Structure...)
	c.Features = append([]string(nil), s.Features...)
	return &c
}
