package assembly

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jtang613/gometa/pkg/assembly/identity"
)

// Info summarises an opened assembly.
type Info struct {
	Path string `json:"path"`
	// Identity is nil for a module without an assembly manifest.
	Identity       *identity.AssemblyReference `json:"identity,omitempty"`
	Module         string                      `json:"module"`
	MVID           uuid.UUID                   `json:"mvid"`
	Kind           string                      `json:"kind"`
	Machine        Machine                     `json:"machine"`
	RuntimeVersion string                      `json:"runtime_version"`
	WinMD          bool                        `json:"winmd"`
	Size           int                         `json:"size"`
	Fingerprint    string                      `json:"fingerprint"`
}

// Machine is the COFF machine type of the image.
type Machine uint16

var machineNames = map[Machine]string{
	0x014c: "i386",
	0x8664: "amd64",
	0x01c0: "arm",
	0x01c4: "armnt",
	0xaa64: "arm64",
	0x0200: "ia64",
}

func (m Machine) String() string {
	if s, ok := machineNames[m]; ok {
		return s
	}
	return fmt.Sprintf("0x%04x", uint16(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Machine) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
