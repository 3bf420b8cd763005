package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tlsSettings() Settings {
	s := DefaultSettings()
	s.Variant = VariantTLS
	s.DomainName = "example.com"
	return s
}

func TestDefaultSettings_Valid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, "t2.micro", s.InstanceType)
	assert.Equal(t, "splunk_AMI_8.2.0_2021*", s.ImageNamePattern)
	assert.Equal(t, 2, s.MaxAzs)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr []string
	}{
		{
			name:   "tls with domain",
			mutate: func(s *Settings) { *s = tlsSettings() },
		},
		{
			name:    "zero zones",
			mutate:  func(s *Settings) { s.MaxAzs = 0 },
			wantErr: []string{"maxAzs must be at least 1"},
		},
		{
			name:    "bad cidr",
			mutate:  func(s *Settings) { s.VpcCidr = "10.0.0.0/33" },
			wantErr: []string{"vpcCidr"},
		},
		{
			name:    "cidr too small for zones",
			mutate:  func(s *Settings) { s.VpcCidr = "10.0.0.0/30"; s.MaxAzs = 4 },
			wantErr: []string{"cannot carve 8 subnets"},
		},
		{
			name:    "stack name",
			mutate:  func(s *Settings) { s.StackName = "Splunk_Prod" },
			wantErr: []string{"stackName"},
		},
		{
			name:    "unknown variant",
			mutate:  func(s *Settings) { s.Variant = "blue-green" },
			wantErr: []string{"unknown variant"},
		},
		{
			name:    "tls without domain",
			mutate:  func(s *Settings) { s.Variant = VariantTLS },
			wantErr: []string{"domainName is required"},
		},
		{
			name: "collector on https port",
			mutate: func(s *Settings) {
				*s = tlsSettings()
				s.CollectorPort = 443
			},
			wantErr: []string{"collectorPort 443 collides with the https listener"},
		},
		{
			name: "app port shared with management",
			mutate: func(s *Settings) {
				*s = tlsSettings()
				s.ManagementPort = s.AppPort
			},
			wantErr: []string{"must differ"},
		},
		{
			name: "every problem reported",
			mutate: func(s *Settings) {
				s.MaxAzs = 0
				s.InstanceType = ""
				s.AppPort = 70000
			},
			wantErr: []string{"maxAzs", "instanceType is required", "appPort 70000 is out of range"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestSettings_ApplyOverrides(t *testing.T) {
	s := DefaultSettings()
	err := s.ApplyOverrides(map[string]string{
		"variant":       "tls",
		"domainName":    "example.org",
		"maxAzs":        "3",
		"imageOwners":   "679593333241, self",
		"tags.team":     "observability",
		"collectorPort": "9088",
	})
	require.NoError(t, err)

	assert.Equal(t, VariantTLS, s.Variant)
	assert.Equal(t, "example.org", s.DomainName)
	assert.Equal(t, 3, s.MaxAzs)
	assert.Equal(t, []string{"679593333241", "self"}, s.ImageOwners)
	assert.Equal(t, map[string]string{"team": "observability"}, s.Tags)
	assert.Equal(t, 9088, s.CollectorPort)
	assert.Equal(t, "splunk.example.org", s.FQDN())
}

func TestSettings_ApplyOverrides_Errors(t *testing.T) {
	s := DefaultSettings()
	err := s.ApplyOverrides(map[string]string{
		"appPort": "eighty",
		"colour":  "blue",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `appPort: "eighty" is not an integer`)
	assert.Contains(t, err.Error(), `unknown setting "colour"`)
	assert.Equal(t, 8000, s.AppPort)
}
