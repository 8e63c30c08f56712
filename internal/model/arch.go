// Package model implements the frost forecaster network and its optimizer.
package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownArch is returned for a model version tag with no architecture.
	ErrUnknownArch = errors.New("unknown model architecture")
	// ErrShapeMismatch is returned when inputs or restored state do not fit the network.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Arch enumerates the supported network architectures.
type Arch int

const (
	ArchMLP Arch = iota + 1
)

func (a Arch) String() string {
	switch a {
	case ArchMLP:
		return "mlp"
	default:
		return fmt.Sprintf("arch(%d)", int(a))
	}
}

// ParseArch resolves the architecture encoded in a model version tag such as "mlp_v1".
func ParseArch(version string) (Arch, error) {
	family, _, _ := strings.Cut(version, "_")
	switch family {
	case "mlp":
		return ArchMLP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownArch, version)
	}
}
