package provisioning

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/qos"
)

func spryfox() Record {
	return NewRecord("10.10.1.100", "spryfoxnetworks", map[string]string{
		"QOS_E": "qos-66",
		"QOS_S": "qos-77",
		"QOS_M": "qos-88",
		"QOS_L": "qos-99",
	})
}

func TestCanonicalAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "10.10.1.100", want: "10.10.1.100"},
		{in: " 10.10.1.100 ", want: "10.10.1.100"},
		{in: "::ffff:10.10.1.100", want: "10.10.1.100"},
		{in: "2001:DB8::1", want: "2001:db8::1"},
		{in: "2001:0db8:0000::0001", want: "2001:db8::1"},
		{in: "999.999.1.1", wantErr: true},
		{in: "010.10.1.100", wantErr: true},
		{in: "fe80::1%eth0", wantErr: true},
		{in: "example.com", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalAddress(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("canonicalizes", func(t *testing.T) {
		in := NewRecord("::ffff:10.10.1.100", "  spryfoxnetworks\t", map[string]string{"QOS_E": "qos-66"})
		got, err := Validate(in)
		require.NoError(t, err)
		want := NewRecord("10.10.1.100", "spryfoxnetworks", map[string]string{"QOS_E": "qos-66"})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("returns a copy", func(t *testing.T) {
		in := spryfox()
		got, err := Validate(in)
		require.NoError(t, err)
		got.QosProfileMap[qos.E] = "changed"
		assert.Equal(t, "qos-66", in.QosProfileMap[qos.E])
	})

	tests := []struct {
		name string
		rec  Record
		kind ErrorKind
	}{
		{
			name: "bad address",
			rec:  NewRecord("999.999.1.1", "app", map[string]string{"QOS_E": "q"}),
			kind: KindInvalidAddress,
		},
		{
			name: "blank application id",
			rec:  NewRecord("10.0.0.1", "   ", map[string]string{"QOS_E": "q"}),
			kind: KindEmptyApplicationID,
		},
		{
			name: "empty map",
			rec:  NewRecord("10.0.0.1", "app", nil),
			kind: KindEmptyProfileMap,
		},
		{
			name: "unknown label",
			rec:  NewRecord("10.0.0.1", "app", map[string]string{"QOS_E": "q", "QOS_X": "q"}),
			kind: KindUnsupportedProfileLabel,
		},
		{
			name: "lowercase label",
			rec:  NewRecord("10.0.0.1", "app", map[string]string{"qos_e": "q"}),
			kind: KindUnsupportedProfileLabel,
		},
		{
			name: "blank reference",
			rec:  NewRecord("10.0.0.1", "app", map[string]string{"QOS_E": " "}),
			kind: KindEmptyQosReference,
		},
		{
			name: "address checked before application id",
			rec:  NewRecord("nope", "", nil),
			kind: KindInvalidAddress,
		},
		{
			name: "labels checked before references",
			rec:  NewRecord("10.0.0.1", "app", map[string]string{"QOS_E": "", "QOS_Z": "q"}),
			kind: KindUnsupportedProfileLabel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.rec)
			require.Error(t, err)
			assert.Equal(t, tt.kind, Kind(err))
		})
	}
}

func TestLabelError(t *testing.T) {
	err := error(&LabelError{Label: "QOS_X", Reason: Unknown})
	assert.ErrorIs(t, err, ErrUnsupportedProfileLabel)
	assert.Contains(t, err.Error(), "QOS_X")

	var le *LabelError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, Unknown, le.Reason)

	err = &LabelError{Label: "QOS_L", Reason: NotSubscribed}
	assert.Contains(t, err.Error(), "not provisioned")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, CodeInvalidInput, ErrorCode(ErrInvalidAddress))
	assert.Equal(t, CodeInvalidInput, ErrorCode(ErrNotProvisioned))
	assert.Equal(t, CodeInvalidInput, ErrorCode(&LabelError{Label: "QOS_Z"}))
	assert.Equal(t, CodeServiceUnavailable, ErrorCode(ErrStoreUnavailable))
	assert.Equal(t, CodeInvalidInput, ErrorCode(fmt.Errorf("record 3: %w", ErrMalformedRecord)))
	assert.Equal(t, KindMalformedRecord, Kind(fmt.Errorf("record 3: %w", ErrMalformedRecord)))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("something else")))
}

func TestValidateTrimsReferences(t *testing.T) {
	rec := NewRecord("10.10.1.100", " spryfoxnetworks ", map[string]string{
		"QOS_E": " qos-66",
		"QOS_L": "qos-99\t",
	})
	got, err := Validate(rec)
	require.NoError(t, err)
	assert.Equal(t, "spryfoxnetworks", got.ExternalApplicationID)
	assert.Equal(t, map[qos.Label]string{qos.E: "qos-66", qos.L: "qos-99"}, got.QosProfileMap)
	assert.Equal(t, " qos-66", rec.QosProfileMap[qos.E], "input record is not modified")
}

func TestKeyLocksReleased(t *testing.T) {
	var k keyLocks
	unlockA := k.lock("a")
	unlockB := k.lock("b")
	assert.Equal(t, 2, k.len())
	unlockA()
	unlockB()
	assert.Equal(t, 0, k.len())
}
