package topology

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	VariantMinimal      = "minimal"
	VariantLoadBalanced = "load-balanced"
	VariantTLS          = "tls"
)

// Variants lists the authored topologies, each an elaboration of the previous.
var Variants = []string{VariantMinimal, VariantLoadBalanced, VariantTLS}

// Settings parameterise every variant. They are read from the settings
// module and may be overridden with -D key=value.
type Settings struct {
	StackName        string            `pkl:"stackName" json:"stackName" yaml:"stackName"`
	Region           string            `pkl:"region" json:"region" yaml:"region"`
	Variant          string            `pkl:"variant" json:"variant" yaml:"variant"`
	VpcCidr          string            `pkl:"vpcCidr" json:"vpcCidr" yaml:"vpcCidr"`
	MaxAzs           int               `pkl:"maxAzs" json:"maxAzs" yaml:"maxAzs"`
	InstanceType     string            `pkl:"instanceType" json:"instanceType" yaml:"instanceType"`
	ImageNamePattern string            `pkl:"imageNamePattern" json:"imageNamePattern" yaml:"imageNamePattern"`
	ImageOwners      []string          `pkl:"imageOwners" json:"imageOwners,omitempty" yaml:"imageOwners,omitempty"`
	AppPort          int               `pkl:"appPort" json:"appPort" yaml:"appPort"`
	CollectorPort    int               `pkl:"collectorPort" json:"collectorPort" yaml:"collectorPort"`
	ManagementPort   int               `pkl:"managementPort" json:"managementPort" yaml:"managementPort"`
	DomainName       string            `pkl:"domainName" json:"domainName,omitempty" yaml:"domainName,omitempty"`
	Subdomain        string            `pkl:"subdomain" json:"subdomain" yaml:"subdomain"`
	Tags             map[string]string `pkl:"tags" json:"tags,omitempty" yaml:"tags,omitempty"`
}

// DefaultSettings mirrors the stack as first deployed: a t2.micro running the
// Splunk 8.2.0 image in a two-zone network.
func DefaultSettings() Settings {
	return Settings{
		StackName:        "splunk",
		Region:           "us-east-1",
		Variant:          VariantMinimal,
		VpcCidr:          "10.0.0.0/16",
		MaxAzs:           2,
		InstanceType:     "t2.micro",
		ImageNamePattern: "splunk_AMI_8.2.0_2021*",
		AppPort:          8000,
		CollectorPort:    8088,
		ManagementPort:   8089,
		Subdomain:        "splunk",
	}
}

// FQDN is the name the TLS variant publishes and certifies.
func (s Settings) FQDN() string {
	return s.Subdomain + "." + strings.TrimSuffix(s.DomainName, ".")
}

// Load balancer and target group names are limited to 32 characters; the
// longest suffix added to the stack name is "-" plus a five digit port.
var stackNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,24}[a-z0-9]$`)

// Validate checks the settings for the selected variant and reports every
// problem at once.
func (s Settings) Validate() error {
	var errs []error

	if !stackNamePattern.MatchString(s.StackName) {
		errs = append(errs, fmt.Errorf("stackName %q must be 2-26 lowercase letters, digits or hyphens", s.StackName))
	}
	if !knownVariant(s.Variant) {
		errs = append(errs, fmt.Errorf("unknown variant %q (want one of %s)", s.Variant, strings.Join(Variants, ", ")))
	}
	if s.MaxAzs < 1 {
		errs = append(errs, fmt.Errorf("maxAzs must be at least 1, got %d", s.MaxAzs))
	}
	if _, _, err := net.ParseCIDR(s.VpcCidr); err != nil {
		errs = append(errs, fmt.Errorf("vpcCidr: %w", err))
	} else if s.MaxAzs >= 1 {
		if _, err := SubnetPlan(s.VpcCidr, s.MaxAzs); err != nil {
			errs = append(errs, err)
		}
	}
	if s.InstanceType == "" {
		errs = append(errs, errors.New("instanceType is required"))
	}
	if s.ImageNamePattern == "" {
		errs = append(errs, errors.New("imageNamePattern is required"))
	}

	ports := map[string]int{"appPort": s.AppPort}
	if s.Variant == VariantTLS {
		ports["collectorPort"] = s.CollectorPort
		ports["managementPort"] = s.ManagementPort
	}
	errs = append(errs, checkPorts(ports)...)

	if s.Variant == VariantTLS {
		if s.AppPort == s.CollectorPort || s.AppPort == s.ManagementPort {
			errs = append(errs, fmt.Errorf("appPort %d must differ from the collector and management ports", s.AppPort))
		}
		if s.DomainName == "" {
			errs = append(errs, errors.New("domainName is required for the tls variant"))
		}
		if s.Subdomain == "" {
			errs = append(errs, errors.New("subdomain is required for the tls variant"))
		}
	}

	return errors.Join(errs...)
}

// checkPorts rejects ports outside 1-65535 and ports the balancer would
// listen on twice. 80 and 443 are taken by the HTTP and HTTPS listeners.
func checkPorts(ports map[string]int) []error {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	seen := map[int]string{80: "the http listener"}
	if len(ports) > 1 {
		seen[443] = "the https listener"
	}
	for _, name := range names {
		port := ports[name]
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range", name, port))
			continue
		}
		// The application port sits behind 80 or 443 and is never a listener itself.
		if name == "appPort" {
			continue
		}
		if other, dup := seen[port]; dup {
			errs = append(errs, fmt.Errorf("%s %d collides with %s", name, port, other))
			continue
		}
		seen[port] = name
	}
	return errs
}

func knownVariant(v string) bool {
	for _, known := range Variants {
		if v == known {
			return true
		}
	}
	return false
}

// ApplyOverrides sets fields from key=value pairs. Tags are set with
// "tags.<key>" and imageOwners takes a comma-separated list.
func (s *Settings) ApplyOverrides(overrides map[string]string) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := s.set(key, overrides[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Settings) set(key, value string) error {
	if tag, ok := strings.CutPrefix(key, "tags."); ok {
		if s.Tags == nil {
			s.Tags = make(map[string]string)
		}
		s.Tags[tag] = value
		return nil
	}

	switch key {
	case "stackName":
		s.StackName = value
	case "region":
		s.Region = value
	case "variant":
		s.Variant = value
	case "vpcCidr":
		s.VpcCidr = value
	case "instanceType":
		s.InstanceType = value
	case "imageNamePattern":
		s.ImageNamePattern = value
	case "imageOwners":
		s.ImageOwners = nil
		for _, owner := range strings.Split(value, ",") {
			if owner = strings.TrimSpace(owner); owner != "" {
				s.ImageOwners = append(s.ImageOwners, owner)
			}
		}
	case "domainName":
		s.DomainName = value
	case "subdomain":
		s.Subdomain = value
	case "maxAzs", "appPort", "collectorPort", "managementPort":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", key, value)
		}
		switch key {
		case "maxAzs":
			s.MaxAzs = n
		case "appPort":
			s.AppPort = n
		case "collectorPort":
			s.CollectorPort = n
		case "managementPort":
			s.ManagementPort = n
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
