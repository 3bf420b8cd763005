package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubnetPlan(t *testing.T) {
	tests := []struct {
		cidr    string
		zones   int
		public  []string
		private []string
	}{
		{
			cidr:    "10.0.0.0/16",
			zones:   1,
			public:  []string{"10.0.0.0/17"},
			private: []string{"10.0.128.0/17"},
		},
		{
			cidr:    "10.0.0.0/16",
			zones:   2,
			public:  []string{"10.0.0.0/18", "10.0.64.0/18"},
			private: []string{"10.0.128.0/18", "10.0.192.0/18"},
		},
		{
			cidr:    "10.0.0.0/16",
			zones:   3,
			public:  []string{"10.0.0.0/19", "10.0.32.0/19", "10.0.64.0/19"},
			private: []string{"10.0.96.0/19", "10.0.128.0/19", "10.0.160.0/19"},
		},
		{
			cidr:    "172.16.0.0/24",
			zones:   2,
			public:  []string{"172.16.0.0/26", "172.16.0.64/26"},
			private: []string{"172.16.0.128/26", "172.16.0.192/26"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			plan, err := SubnetPlan(tt.cidr, tt.zones)
			require.NoError(t, err)
			assert.Equal(t, tt.public, plan.Public)
			assert.Equal(t, tt.private, plan.Private)
		})
	}
}

func TestSubnetPlan_Errors(t *testing.T) {
	_, err := SubnetPlan("10.0.0.0/16", 0)
	assert.ErrorContains(t, err, "at least 1")

	_, err = SubnetPlan("not-a-cidr", 2)
	assert.ErrorContains(t, err, "invalid vpc cidr")

	_, err = SubnetPlan("10.0.0.0/30", 4)
	assert.ErrorContains(t, err, "cannot carve 8 subnets")
}
