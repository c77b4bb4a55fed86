package provisioning

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/qos"
)

// Record binds an application server address to its tenant and to the
// backend QoS references of the profiles it subscribes to.
//
// The JSON tags are the persisted document layout shared by every store.
type Record struct {
	AccessIdentifier      string               `json:"accessIdentifier" yaml:"accessIdentifier"`
	ExternalApplicationID string               `json:"externalApplicationId" yaml:"externalApplicationId"`
	QosProfileMap         map[qos.Label]string `json:"qosProfileMap" yaml:"qosProfileMap"`
}

// NewRecord builds a record from plain strings, the shape seed files and
// exposure requests arrive in. It does not validate; Provision does.
func NewRecord(accessIdentifier, externalApplicationID string, profiles map[string]string) Record {
	m := make(map[qos.Label]string, len(profiles))
	for k, v := range profiles {
		m[qos.Label(k)] = v
	}
	return Record{
		AccessIdentifier:      accessIdentifier,
		ExternalApplicationID: externalApplicationID,
		QosProfileMap:         m,
	}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	if r.QosProfileMap != nil {
		out.QosProfileMap = make(map[qos.Label]string, len(r.QosProfileMap))
		for k, v := range r.QosProfileMap {
			out.QosProfileMap[k] = v
		}
	}
	return out
}

// Labels returns the record's subscribed labels, sorted.
func (r Record) Labels() []qos.Label {
	out := make([]qos.Label, 0, len(r.QosProfileMap))
	for l := range r.QosProfileMap {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks r and returns its canonical form. Checks run in a fixed
// order: address, application id, empty map, labels (sorted), references.
func Validate(r Record) (Record, error) {
	key, err := CanonicalAddress(r.AccessIdentifier)
	if err != nil {
		return Record{}, err
	}

	appID := norm.NFC.String(strings.TrimSpace(r.ExternalApplicationID))
	if appID == "" {
		return Record{}, ErrEmptyApplicationID
	}

	if len(r.QosProfileMap) == 0 {
		return Record{}, ErrEmptyProfileMap
	}

	labels := r.Labels()
	for _, l := range labels {
		if !l.Valid() {
			return Record{}, &LabelError{Label: string(l), Reason: Unknown}
		}
	}
	for _, l := range labels {
		if strings.TrimSpace(r.QosProfileMap[l]) == "" {
			return Record{}, fmt.Errorf("%w for %s", ErrEmptyQosReference, l)
		}
	}

	out := r.Clone()
	out.AccessIdentifier = key
	out.ExternalApplicationID = appID
	for l, ref := range out.QosProfileMap {
		out.QosProfileMap[l] = strings.TrimSpace(ref)
	}
	return out, nil
}

// CanonicalAddress parses s as an IPv4 or IPv6 literal and returns the key
// form used by the registry. IPv4-mapped IPv6 addresses collapse to IPv4 and
// zoned addresses are refused.
func CanonicalAddress(s string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if addr.Zone() != "" {
		return "", fmt.Errorf("%w: %q carries a zone", ErrInvalidAddress, s)
	}
	return addr.Unmap().String(), nil
}
