// Package qos defines the closed set of exposure-facing QoS profile labels.
//
// The labels are the CAMARA Quality-on-Demand profiles an application may
// request. Provisioning validates against this set and the exposure layer
// publishes it, so adding a profile is a change to this file only.
package qos

import (
	"fmt"
	"strings"
)

// Label is an exposure-facing QoS profile name.
type Label string

const (
	// E is the enhanced-communication profile (low latency).
	E Label = "QOS_E"
	// S is the small throughput profile.
	S Label = "QOS_S"
	// M is the medium throughput profile.
	M Label = "QOS_M"
	// L is the large throughput profile.
	L Label = "QOS_L"
)

var labels = []Label{E, S, M, L}

// Labels returns every supported label in declaration order.
func Labels() []Label {
	out := make([]Label, len(labels))
	copy(out, labels)
	return out
}

// Valid reports whether l belongs to the supported set.
func (l Label) Valid() bool {
	switch l {
	case E, S, M, L:
		return true
	}
	return false
}

func (l Label) String() string { return string(l) }

// Parse converts s to a Label. Matching is exact: "qos_m" is not "QOS_M".
func Parse(s string) (Label, error) {
	l := Label(s)
	if !l.Valid() {
		return "", fmt.Errorf("qos: unsupported profile label %q (supported: %s)", s, supported())
	}
	return l, nil
}

func supported() string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}
